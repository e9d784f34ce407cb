package realtime

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClusterPresence counts a user's connections across every node of a
// deployment. Join and Leave return the cluster-wide total after the change.
type ClusterPresence interface {
	Join(ctx context.Context, nodeID, userID string) (int64, error)
	Leave(ctx context.Context, nodeID, userID string) (int64, error)
	// Heartbeat marks the node alive. Counts held by nodes that stopped
	// heartbeating are discarded the next time the user is counted.
	Heartbeat(ctx context.Context, nodeID string) error
}

// tallyScript sums the per-node counts of KEYS[1], dropping nodes whose
// heartbeat in KEYS[2] is older than ARGV[2] - ARGV[3] milliseconds.
const tallyScript = `
local cutoff = tonumber(ARGV[2]) - tonumber(ARGV[3])
local total = 0
local counts = redis.call('HGETALL', KEYS[1])
for i = 1, #counts, 2 do
  local node = counts[i]
  local n = tonumber(counts[i + 1])
  local seen = redis.call('ZSCORE', KEYS[2], node)
  if n <= 0 or not seen or tonumber(seen) < cutoff then
    redis.call('HDEL', KEYS[1], node)
  else
    total = total + n
  end
end
if total == 0 then
  redis.call('DEL', KEYS[1])
end
return total
`

var (
	joinScript = redis.NewScript(`
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
` + tallyScript)

	leaveScript = redis.NewScript(`
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
` + tallyScript)
)

// RedisPresence keeps one hash per user (node -> connections) and a sorted set
// of node heartbeats under prefix.
type RedisPresence struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisPresence creates the counter. ttl is how long a node may go without a
// heartbeat before its connections stop counting.
func NewRedisPresence(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisPresence{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (p *RedisPresence) Join(ctx context.Context, nodeID, userID string) (int64, error) {
	return p.run(ctx, joinScript, nodeID, userID)
}

func (p *RedisPresence) Leave(ctx context.Context, nodeID, userID string) (int64, error) {
	return p.run(ctx, leaveScript, nodeID, userID)
}

func (p *RedisPresence) Heartbeat(ctx context.Context, nodeID string) error {
	now := p.now().UnixMilli()
	cutoff := now - p.ttl.Milliseconds()

	pipe := p.client.Pipeline()
	pipe.ZAdd(ctx, p.nodesKey(), redis.Z{Score: float64(now), Member: nodeID})
	pipe.ZRemRangeByScore(ctx, p.nodesKey(), "-inf", "("+strconv.FormatInt(cutoff, 10))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) run(ctx context.Context, script *redis.Script, nodeID, userID string) (int64, error) {
	keys := []string{p.userKey(userID), p.nodesKey()}
	return script.Run(ctx, p.client, keys, nodeID, p.now().UnixMilli(), p.ttl.Milliseconds()).Int64()
}

func (p *RedisPresence) userKey(userID string) string {
	return p.prefix + ":presence:user:" + userID
}

func (p *RedisPresence) nodesKey() string {
	return p.prefix + ":presence:nodes"
}
