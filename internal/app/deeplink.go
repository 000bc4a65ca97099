package app

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/skobkin/mediaremote/internal/domain"
)

// ErrNoDeepLink reports a link that carries no usable ip and port pair.
var ErrNoDeepLink = errors.New("link has no ip and port parameters")

// ParseDeepLink extracts the server endpoint from links of the form
// "...?ip=<addr>&port=<port>" or "...#/remote?ip=<addr>&port=<port>".
// Query parameters win over hash parameters, each key looked up separately.
func ParseDeepLink(raw string) (domain.ServerKey, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return domain.ServerKey{}, fmt.Errorf("parse link: %w", err)
	}

	query := u.Query()
	var hash url.Values
	if _, rest, ok := strings.Cut(u.Fragment, "?"); ok {
		hash, _ = url.ParseQuery(rest)
	}

	ip := firstParam("ip", query, hash)
	portRaw := firstParam("port", query, hash)
	if ip == "" || portRaw == "" {
		return domain.ServerKey{}, ErrNoDeepLink
	}

	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return domain.ServerKey{}, fmt.Errorf("%w: port %q is not a number", domain.ErrInvalidAddress, portRaw)
	}
	key := domain.NewServerKey(ip, port)
	if err := key.Validate(); err != nil {
		return domain.ServerKey{}, err
	}

	return key, nil
}

func firstParam(name string, sets ...url.Values) string {
	for _, values := range sets {
		if v := strings.TrimSpace(values.Get(name)); v != "" {
			return v
		}
	}

	return ""
}
