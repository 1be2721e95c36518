//go:build tools

// Package tools pins mockgen, used by the go:generate directive of the contract package.
package chat_sync

import (
	_ "go.uber.org/mock/mockgen"
)
