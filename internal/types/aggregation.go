package types

type AggregationType string

const (
	AggregationSum  AggregationType = "SUM"
	AggregationMax  AggregationType = "MAX"
	AggregationAvg  AggregationType = "AVG"
	AggregationLast AggregationType = "LAST"
)

func (t AggregationType) Validate() bool {
	switch t {
	case AggregationSum, AggregationMax, AggregationAvg, AggregationLast:
		return true
	default:
		return false
	}
}
