// Package factulink watches the order tables of several business databases
// and turns every new order into an event for the invoicing controller.
//
// # Architecture
//
// One listener (internal/poller) runs per business, except the main
// business, which is never polled. Each listener:
//
//  1. Reads the highest order identifier at startup and uses it as its
//     watermark. Orders already present are never emitted.
//  2. Every poll interval (10s by default) queries the orders with an
//     identifier above the watermark, in ascending order.
//  3. Builds an event per order, hands it to the shared funnel
//     (internal/funnel) and only then advances the watermark.
//
// An order that cannot be emitted stops its batch and is retried on the next
// cycle; later orders of that business wait behind it. Connection and query
// failures are logged and retried at the same cadence.
//
// The controller consumes the funnel through a sink (internal/sink): a log,
// a JSON lines file or a Kafka topic.
//
// # Quick Start
//
//	# .env
//	DATA_PATH=/srv/accounting
//	EXERCISE=2025
//	BUSINESS_CODE=OFICIT:OFI,NORTE:NOR
//	BUSINESS_SERIALS=OFICIT:A,NORTE:B
//	MAIN_BUSINESS=OFICIT
//
//	factulink sources --probe
//	factulink run --metrics-addr :9108
//
// # Event Format
//
//	{"empresa":"NORTE","id":"A-000101","nombre_cliente":"Acme","timestamp":1741944600.25}
//
// The identifier joins the order type code and the order number padded to
// six digits.
package factulink
