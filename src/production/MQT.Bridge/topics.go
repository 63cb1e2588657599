package mqtbridge

import (
	"fmt"

	operations "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Operations"
)

const topicRoot = "sensors"

// RequestTopic is the topic clients publish op requests to
func RequestTopic(op operations.Operation) string {
	return fmt.Sprintf("%s/%s/request", topicRoot, op)
}

// ResponseTopic is the topic the bridge publishes op results to
func ResponseTopic(op operations.Operation) string {
	return fmt.Sprintf("%s/%s/response", topicRoot, op)
}

// binding maps each request topic to its operation. It is built once and
// never written afterwards.
var binding = func() map[string]operations.Operation {
	m := make(map[string]operations.Operation, len(operations.All))
	for _, op := range operations.All {
		m[RequestTopic(op)] = op
	}
	return m
}()

// OperationFor resolves an inbound topic
func OperationFor(topic string) (operations.Operation, bool) {
	op, ok := binding[topic]
	return op, ok
}

// subscriptionFilters returns the request topics, wrapped in a shared
// subscription when group is set, each at QoS 1.
func subscriptionFilters(group string) map[string]byte {
	filters := make(map[string]byte, len(operations.All))
	for _, op := range operations.All {
		topic := RequestTopic(op)
		if group != "" {
			topic = fmt.Sprintf("$share/%s/%s", group, topic)
		}
		filters[topic] = 1
	}
	return filters
}
