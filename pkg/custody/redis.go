package custody

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Jovells/dchain/pkg/shipment"
)

// redisTransferScript moves funds between two balances atomically.
// KEYS[1] = balances hash
// ARGV[1] = from, ARGV[2] = to, ARGV[3] = amount
var redisTransferScript = redis.NewScript(`
local amount = tonumber(ARGV[3])
local balance = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
if balance < amount then
    return 0
end
redis.call("HINCRBY", KEYS[1], ARGV[1], -amount)
redis.call("HINCRBY", KEYS[1], ARGV[2], amount)
return 1
`)

// redisDepositScript moves funds from a balance into a named hold.
// KEYS[1] = balances hash, KEYS[2] = holds hash
// ARGV[1] = from, ARGV[2] = hold id, ARGV[3] = amount
var redisDepositScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[2], ARGV[2]) == 1 then
    return -1
end
local amount = tonumber(ARGV[3])
local balance = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
if balance < amount then
    return 0
end
redis.call("HINCRBY", KEYS[1], ARGV[1], -amount)
redis.call("HSET", KEYS[2], ARGV[2], ARGV[1] .. "|" .. ARGV[3])
return 1
`)

// redisReleaseScript pays a hold out to a recipient and deletes it.
// KEYS[1] = balances hash, KEYS[2] = holds hash
// ARGV[1] = hold id, ARGV[2] = to
var redisReleaseScript = redis.NewScript(`
local hold = redis.call("HGET", KEYS[2], ARGV[1])
if not hold then
    return -1
end
local amount = tonumber(string.match(hold, "|(%d+)$"))
redis.call("HINCRBY", KEYS[1], ARGV[2], amount)
redis.call("HDEL", KEYS[2], ARGV[1])
return 1
`)

// Redis implements Custodian on Redis hashes. Each operation is one Lua
// script, so it is atomic with respect to other clients.
type Redis struct {
	client   redis.UniversalClient
	balances string
	holds    string
}

// NewRedis creates a custodian storing state under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "dchain"
	}
	return &Redis{
		client:   client,
		balances: prefix + ":custody:balances",
		holds:    prefix + ":custody:holds",
	}
}

// NewRedisFromAddr dials a single Redis node.
func NewRedisFromAddr(addr, password string, db int) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedis(rdb, "")
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// inRange rejects amounts Lua numbers cannot represent exactly.
func inRange(op string, amount uint64) error {
	if amount > shipment.MaxAmount {
		return fmt.Errorf("%s %d: %w", op, amount, ErrAmountOutOfRange)
	}
	return nil
}

// Mint credits amount to addr.
func (r *Redis) Mint(ctx context.Context, addr shipment.Address, amount uint64) error {
	if err := inRange("mint", amount); err != nil {
		return err
	}
	if err := r.client.HIncrBy(ctx, r.balances, string(shipment.NewAddress(string(addr))), int64(amount)).Err(); err != nil {
		return fmt.Errorf("redis custody mint: %w", err)
	}
	return nil
}

// Balance returns addr's spendable balance.
func (r *Redis) Balance(ctx context.Context, addr shipment.Address) (uint64, error) {
	v, err := r.client.HGet(ctx, r.balances, string(shipment.NewAddress(string(addr)))).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis custody balance: %w", err)
	}
	return v, nil
}

func (r *Redis) Transfer(ctx context.Context, from, to shipment.Address, amount uint64) error {
	if err := inRange("transfer", amount); err != nil {
		return err
	}
	from, to = shipment.NewAddress(string(from)), shipment.NewAddress(string(to))
	code, err := r.run(ctx, redisTransferScript, string(from), string(to), amount)
	if err != nil {
		return err
	}
	if code == 0 {
		return fmt.Errorf("transfer %d from %s: %w", amount, from, ErrInsufficientFunds)
	}
	return nil
}

func (r *Redis) DepositToEscrow(ctx context.Context, from shipment.Address, holdID uint64, amount uint64) error {
	if err := inRange("deposit", amount); err != nil {
		return err
	}
	from = shipment.NewAddress(string(from))
	code, err := r.run(ctx, redisDepositScript, string(from), strconv.FormatUint(holdID, 10), amount)
	if err != nil {
		return err
	}
	switch code {
	case -1:
		return fmt.Errorf("deposit hold %d: %w", holdID, ErrHoldExists)
	case 0:
		return fmt.Errorf("deposit %d from %s: %w", amount, from, ErrInsufficientFunds)
	}
	return nil
}

func (r *Redis) ReleaseEscrow(ctx context.Context, holdID uint64, to shipment.Address) error {
	to = shipment.NewAddress(string(to))
	code, err := r.run(ctx, redisReleaseScript, strconv.FormatUint(holdID, 10), string(to))
	if err != nil {
		return err
	}
	if code == -1 {
		return fmt.Errorf("release hold %d: %w", holdID, ErrNotHeld)
	}
	return nil
}

func (r *Redis) run(ctx context.Context, script *redis.Script, args ...interface{}) (int64, error) {
	res, err := script.Run(ctx, r.client, []string{r.balances, r.holds}, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis custody error: %w", err)
	}
	code, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("invalid response from lua script")
	}
	return code, nil
}
