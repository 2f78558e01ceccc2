package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered int64 row id. Init must have been called.
func New() int64 {
	return node.Generate().Int64()
}

// NewRequestID generates the opaque id passed to the CI server as BUILD_REQUEST_ID.
// It travels through the CI job and comes back on the completion webhook.
func NewRequestID() string {
	return uuid.NewString()
}
