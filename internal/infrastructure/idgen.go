package infrastructure

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// SnowflakeIDGenerator issues snowflake ids for records and random uuids for
// opaque tokens.
type SnowflakeIDGenerator struct {
	node *snowflake.Node
}

func NewSnowflakeIDGenerator(nodeID int64) (*SnowflakeIDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("creating snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDGenerator{node: node}, nil
}

func (g *SnowflakeIDGenerator) NewID() string {
	return g.node.Generate().String()
}

func (g *SnowflakeIDGenerator) NewToken() string {
	return uuid.NewString()
}
