package store

// Scripted atomic blocks for the settlement primitive. Amounts arrive
// as fixed-point integers already scaled by domain.AmountScale so the
// scripts themselves stay integer-only arithmetic. Each script stamps
// updatedAt (unix millis, passed in as an argument so the script stays
// deterministic and side-effect free beyond the keys it touches).

// freezeLua implements Freeze(userId, currency, amount): KEYS[1] is the
// asset hash key; ARGV[1] is the amount to move, ARGV[2] is the current
// unix-millis timestamp. Returns 1 on success, 0 if available was
// insufficient.
const freezeLua = `
local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '0')
local amount = tonumber(ARGV[1])
if available < amount then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'available', -amount)
redis.call('HINCRBY', KEYS[1], 'frozen', amount)
redis.call('HSET', KEYS[1], 'updatedAt', ARGV[2])
return 1
`

// reverseFreezeLua moves frozen back to available, used when an order's
// unconsumed freeze is released on cancel. KEYS[1] asset hash;
// ARGV[1] amount; ARGV[2] timestamp. Always succeeds unless frozen would
// go negative, which would indicate a bookkeeping bug upstream.
const reverseFreezeLua = `
local frozen = tonumber(redis.call('HGET', KEYS[1], 'frozen') or '0')
local amount = tonumber(ARGV[1])
if frozen < amount then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'frozen', -amount)
redis.call('HINCRBY', KEYS[1], 'available', amount)
redis.call('HSET', KEYS[1], 'updatedAt', ARGV[2])
return 1
`

// executeTradeLua implements ExecuteTrade(buyerId, sellerId, base, quote,
// price, qty) over four asset-hash keys:
//   KEYS[1] buyer quote hash, KEYS[2] buyer base hash,
//   KEYS[3] seller base hash, KEYS[4] seller quote hash
// ARGV[1] notional (price*qty), ARGV[2] qty, ARGV[3] timestamp.
// Returns 1 on success, 0 if either frozen balance was insufficient.
// The matching lane treats 0 as a settlement invariant breach, since a
// resting order's freeze should already guarantee sufficiency; this
// script is the last line of defence.
const executeTradeLua = `
local notional = tonumber(ARGV[1])
local qty = tonumber(ARGV[2])
local ts = ARGV[3]

local buyerFrozenQuote = tonumber(redis.call('HGET', KEYS[1], 'frozen') or '0')
if buyerFrozenQuote < notional then
  return 0
end
local sellerFrozenBase = tonumber(redis.call('HGET', KEYS[3], 'frozen') or '0')
if sellerFrozenBase < qty then
  return 0
end

redis.call('HINCRBY', KEYS[1], 'frozen', -notional)
redis.call('HSET', KEYS[1], 'updatedAt', ts)

redis.call('HINCRBY', KEYS[2], 'available', qty)
redis.call('HSET', KEYS[2], 'updatedAt', ts)

redis.call('HINCRBY', KEYS[3], 'frozen', -qty)
redis.call('HSET', KEYS[3], 'updatedAt', ts)

redis.call('HINCRBY', KEYS[4], 'available', notional)
redis.call('HSET', KEYS[4], 'updatedAt', ts)

return 1
`
