package orders

const (
	// outbound, consumed by notification/reporting collaborators
	TopicOrderSplit     = "order.split"
	TopicOrderPaid      = "order.paid"
	TopicOrderRefunded  = "order.refunded"
	TopicOrderCancelled = "order.cancelled"

	// inbound from the payment gateway
	TopicPaymentCaptured = "payment.captured"
	TopicPaymentRefunded = "payment.refunded"

	// events the worker refused for integrity reasons
	TopicSettlementDeadLetter = "settlement.dead-letter"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
