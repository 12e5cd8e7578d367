package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// toTable converts string headers to an AMQP table.
func toTable(headers map[string]string) amqp.Table {
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return table
}

// headerString reads a header as a string, tolerating the mixed value types
// the broker round-trips.
func headerString(table amqp.Table, key string) string {
	if table == nil {
		return ""
	}
	switch v := table[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// headerInt reads a header as an int across the numeric types AMQP clients
// produce.
func headerInt(table amqp.Table, key string) int {
	if table == nil {
		return 0
	}
	switch v := table[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// stringHeaders flattens an AMQP table into string headers for a delivery.
func stringHeaders(table amqp.Table) map[string]string {
	headers := make(map[string]string, len(table))
	for k := range table {
		headers[k] = headerString(table, k)
	}
	return headers
}
