package orders

import "strconv"

// TopicOrderLifecycle carries every order lifecycle envelope.
const TopicOrderLifecycle = "order.lifecycle"

// Partition key = order id so events for one order stay ordered.
func PartitionKey(orderID int64) []byte { return []byte(itoa(orderID)) }

func PartitionKeyString(orderID int64) string { return itoa(orderID) }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
