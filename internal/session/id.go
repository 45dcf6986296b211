package session

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	idNode *snowflake.Node
	idOnce sync.Once
)

// InitIDGen initializes the Snowflake node used for session identifiers.
// Safe to call multiple times; only the first call's
// nodeID takes effect.
func InitIDGen(nodeID int64) error {
	var err error
	idOnce.Do(func() {
		idNode, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewID generates a new globally unique, time-ordered int64 id.
func NewID() int64 {
	return idNode.Generate().Int64()
}
