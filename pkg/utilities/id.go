package utilities

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// IDGenerator hands out snowflake ids from a single node. If the node
// cannot be created it degrades to KSUID strings.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGeneratorFromEnv builds a generator using the node id in
// SNOWFLAKE_NODE, defaulting to node 1 when unset or malformed.
func NewIDGeneratorFromEnv() *IDGenerator {
	nodeID := int64(1)
	if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			nodeID = n
		}
	}
	return NewIDGenerator(nodeID)
}

// NewIDGenerator builds a generator for the given snowflake node id.
func NewIDGenerator(nodeID int64) *IDGenerator {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return &IDGenerator{}
	}
	return &IDGenerator{node: node}
}

// Next returns the next id as a string.
func (g *IDGenerator) Next() string {
	if g == nil || g.node == nil {
		return NewKSUID()
	}
	return g.node.Generate().String()
}
