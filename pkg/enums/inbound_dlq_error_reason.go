package enums

type InboundDLQErrorReason string

const (
	InboundDLQReasonMaxDeliveries InboundDLQErrorReason = "max_deliveries"
	InboundDLQReasonUnknownEvent  InboundDLQErrorReason = "unknown_event"
	InboundDLQReasonBadPayload    InboundDLQErrorReason = "bad_payload"
)

var validInboundDLQErrorReasons = []InboundDLQErrorReason{
	InboundDLQReasonMaxDeliveries,
	InboundDLQReasonUnknownEvent,
	InboundDLQReasonBadPayload,
}

func (r InboundDLQErrorReason) IsValid() bool {
	for _, candidate := range validInboundDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
