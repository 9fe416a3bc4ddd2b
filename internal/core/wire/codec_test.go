package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

func sampleBundle(payload []byte) *domain.Bundle {
	return &domain.Bundle{
		ID: domain.BundleID{
			Source:   domain.IPN(1, 5),
			Creation: domain.CreationTimestamp{Time: 777000, Seq: 2},
		},
		Destination:   domain.IPN(2, 1),
		ReportTo:      domain.AdminEID(1),
		Custodian:     domain.AdminEID(1),
		Flags:         domain.FlagCustodyRequested | domain.FlagReportDeleted,
		Priority:      domain.PriorityExpedited,
		Ordinal:       9,
		Lifetime:      300_000,
		PayloadLength: uint64(len(payload)),
		Blocks: domain.BlockList{
			domain.HopCountBlock{Limit: 8, Count: 1},
			domain.PreviousNodeBlock{Node: domain.AdminEID(1)},
			domain.UnknownBlock{BlockType: 200, Data: []byte{0xde, 0xad}},
		},
	}
}

func TestBundle_EncodeDecode(t *testing.T) {
	payload := []byte("hello, delay tolerant world")
	in := sampleBundle(payload)

	raw, err := EncodeBundle(in, payload)
	require.NoError(t, err)

	out, gotPayload, err := DecodeBundle(raw)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, gotPayload))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Destination, out.Destination)
	assert.Equal(t, in.ReportTo, out.ReportTo)
	assert.Equal(t, in.Flags, out.Flags)
	assert.Equal(t, in.Priority, out.Priority)
	assert.Equal(t, in.Ordinal, out.Ordinal)
	assert.Equal(t, in.Lifetime, out.Lifetime)
	require.Len(t, out.Blocks, 3)
	assert.Equal(t, domain.HopCountBlock{Limit: 8, Count: 1}, out.Blocks[0])
	assert.Equal(t, domain.UnknownBlock{BlockType: 200, Data: []byte{0xde, 0xad}}, out.Blocks[2])
}

func TestBundle_EncodeLengthMismatch(t *testing.T) {
	b := sampleBundle([]byte("abc"))
	_, err := EncodeBundle(b, []byte("abcd"))
	assert.Error(t, err)
}

func TestDecodeBundle_Malformed(t *testing.T) {
	good, err := EncodeBundle(sampleBundle([]byte("x")), []byte("x"))
	require.NoError(t, err)

	zeroLifetime := sampleBundle([]byte("x"))
	zeroLifetime.Lifetime = 0
	badLifetime, err := EncodeBundle(zeroLifetime, []byte("x"))
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "garbage", raw: []byte{0xff, 0x00, 0x13}},
		{name: "truncated", raw: good[:len(good)-3]},
		{name: "zero lifetime", raw: badLifetime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeBundle(tt.raw)
			assert.True(t, domain.IsDomainError(err, domain.ErrMalformedBundle.Code), "got %v", err)
		})
	}
}

func TestAdminRecord_EncodeDecode(t *testing.T) {
	subject := domain.BundleID{Source: domain.IPN(3, 1), Creation: domain.CreationTimestamp{Time: 10, Seq: 1}}
	tests := []struct {
		name string
		rec  domain.AdminRecord
	}{
		{
			name: "status report",
			rec: domain.AdminRecord{Type: domain.AdminStatusReport, StatusReport: &domain.StatusReport{
				Kind: domain.StatusDeleted, Reason: domain.ReasonNoRoute, Subject: subject, Time: 55,
			}},
		},
		{
			name: "custody signal",
			rec: domain.AdminRecord{Type: domain.AdminCustodySignal, CustodySignal: &domain.CustodySignal{
				Accepted: true, Subject: subject, Time: 56,
			}},
		},
		{
			name: "petition",
			rec:  domain.AdminRecord{Type: domain.AdminPetition, Petition: &domain.Petition{Group: 4, Join: true}},
		},
		{
			name: "notices",
			rec:  domain.AdminRecord{Type: domain.AdminContactNotices, Notices: [][]byte{{0x01}, {0x02, 0x03}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeAdminRecord(&tt.rec)
			require.NoError(t, err)
			got, err := DecodeAdminRecord(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.rec, *got)
		})
	}
}

func TestDecodeAdminRecord_UnknownType(t *testing.T) {
	raw, err := Marshal(wireAdminRecord{Type: 99, Body: []byte{0xf6}})
	require.NoError(t, err)
	_, err = DecodeAdminRecord(raw)
	assert.True(t, domain.IsDomainError(err, domain.ErrMalformedAdminRecord.Code))
}
