package redisx

import "time"

const (
	// Idempotent checkout: idem:order:create:{customer_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%d:%s"

	// Dedup of deliveries: dedup:{scope}:{id} (id = gateway event id or envelope event id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
