package bus

import "context"

// Latest relays values from sub, dropping any value that was superseded before
// the consumer picked it up. The returned channel closes when ctx ends or sub closes.
func Latest(ctx context.Context, sub Subscription) <-chan any {
	out := make(chan any)
	slot := make(chan any, 1)

	go func() {
		defer close(slot)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				select {
				case <-slot:
				default:
				}
				slot <- msg
			}
		}
	}()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-slot:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
