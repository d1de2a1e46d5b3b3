// Copyright (c) 2025 FatalMerlin
//
// BSD 3-Clause License
// See LICENSE file in the project root for details.

package eventbus

import "context"

// Bus is a thin abstraction over the internal event distribution mechanism.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, ch chan<- any) (unsubscribe func(), err error)
}
