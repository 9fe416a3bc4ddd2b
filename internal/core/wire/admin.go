package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

type wireAdminRecord struct {
	_    struct{} `cbor:",toarray"`
	Type domain.AdminRecordType
	Body cbor.RawMessage
}

// EncodeAdminRecord serializes an administrative record as [type, body].
func EncodeAdminRecord(rec *domain.AdminRecord) ([]byte, error) {
	var body any
	switch rec.Type {
	case domain.AdminStatusReport:
		body = rec.StatusReport
	case domain.AdminCustodySignal:
		body = rec.CustodySignal
	case domain.AdminPetition:
		body = rec.Petition
	case domain.AdminContactNotices:
		body = rec.Notices
	default:
		return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("admin record type %d", rec.Type))
	}
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(wireAdminRecord{Type: rec.Type, Body: raw})
}

// DecodeAdminRecord parses an administrative record payload.
func DecodeAdminRecord(data []byte) (*domain.AdminRecord, error) {
	var w wireAdminRecord
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, domain.ErrMalformedAdminRecord.WithCause(err)
	}
	rec := &domain.AdminRecord{Type: w.Type}
	var err error
	switch w.Type {
	case domain.AdminStatusReport:
		rec.StatusReport = new(domain.StatusReport)
		err = decMode.Unmarshal(w.Body, rec.StatusReport)
	case domain.AdminCustodySignal:
		rec.CustodySignal = new(domain.CustodySignal)
		err = decMode.Unmarshal(w.Body, rec.CustodySignal)
	case domain.AdminPetition:
		rec.Petition = new(domain.Petition)
		err = decMode.Unmarshal(w.Body, rec.Petition)
	case domain.AdminContactNotices:
		err = decMode.Unmarshal(w.Body, &rec.Notices)
	default:
		return nil, domain.ErrMalformedAdminRecord.WithDetails(fmt.Sprintf("unknown type %d", w.Type))
	}
	if err != nil {
		return nil, domain.ErrMalformedAdminRecord.WithDetails(fmt.Sprintf("type %d", w.Type)).WithCause(err)
	}
	return rec, nil
}
