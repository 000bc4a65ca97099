package app

const (
	Name           = "mediaremote"
	SourceURL      = "https://git.skobk.in/skobkin/mediaremote"
	ConfigFilename = "config.json"
	DBFilename     = "servers.db"
	StoreFilename  = "servers.json"
	LogFilename    = "mediaremote.log"
	// ControllerLockName guards the single control session per user.
	ControllerLockName = "controller"
)
