package orders

const (
	TopicOrderStatusChanged     = "order.status.changed"
	TopicOrderStatusRequested   = "order.status.requested"
	TopicStockAdjusted          = "inventory.stock.adjusted"
	TopicOrderTotalRecomputed   = "order.total.recomputed"
	TopicGRNRecorded            = "grn.recorded"
	TopicPurchaseInvoiceEntered = "purchase_order.invoice.recorded"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
