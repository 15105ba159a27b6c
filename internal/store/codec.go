package store

import (
	"fmt"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"gapfill/internal/domain"
)

// Cell kinds as persisted by the durable backends.
const (
	kindRow    = "row"    // row marker carrying no cell
	kindPrice  = "price"  // decimal string in the price column
	kindRecord = "record" // protobuf-encoded structpb.Struct in the record column
)

var recordMarshal = proto.MarshalOptions{Deterministic: true}

// encodeCell splits an observation into its persisted columns.
func encodeCell(v domain.Observation) (kind, price string, record []byte, err error) {
	if !v.IsRecord() {
		return kindPrice, v.Price.String(), nil, nil
	}
	b, err := recordMarshal.Marshal(v.Record)
	if err != nil {
		return "", "", nil, fmt.Errorf("encoding record: %w", err)
	}
	return kindRecord, "", b, nil
}

// decodeCell is the inverse of encodeCell.
func decodeCell(kind, price string, record []byte) (domain.Observation, error) {
	switch kind {
	case kindPrice:
		d, err := decimal.NewFromString(price)
		if err != nil {
			return domain.Observation{}, fmt.Errorf("decoding price %q: %w", price, err)
		}
		return domain.PriceObservation(d), nil
	case kindRecord:
		s := &structpb.Struct{}
		if err := proto.Unmarshal(record, s); err != nil {
			return domain.Observation{}, fmt.Errorf("decoding record: %w", err)
		}
		return domain.Observation{Record: s}, nil
	default:
		return domain.Observation{}, fmt.Errorf("unknown cell kind %q", kind)
	}
}
