package cache

// Every multi-step cache mutation runs as one Lua script so no client
// ever observes a partial decrement and no client-side locking is
// needed. Return conventions follow ReduceResult.

const reduceStockScript = `
local current_stock = tonumber(redis.call('GET', KEYS[1]))
local deduct_amount = tonumber(ARGV[1])
if current_stock == nil then
    return -2
elseif current_stock == 0 then
    return 0
elseif current_stock < deduct_amount then
    return -1
else
    redis.call('DECRBY', KEYS[1], deduct_amount)
    return 1
end`

// Hash-field variant used for the per-segment availability cache.
// A field that reaches zero is deleted so exhausted segments drop out
// of the candidate set without a separate cleanup pass.
const reduceHashStockScript = `
local stock = tonumber(redis.call('hget', KEYS[1], ARGV[1]))
if stock == nil then
    return -2
end
if stock >= tonumber(ARGV[2]) then
    local newStock = stock - tonumber(ARGV[2])
    if newStock == 0 then
        redis.call('hdel', KEYS[1], ARGV[1])
    else
        redis.call('hset', KEYS[1], ARGV[1], newStock)
    end
    return 1
else
    return -1
end`

const fillHashScript = `
redis.call('del', KEYS[1])
for i = 1, #ARGV - 1, 2 do
    redis.call('hset', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1`
