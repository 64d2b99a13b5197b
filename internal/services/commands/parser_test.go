package commands

import (
	"testing"

	"invoice-automation-backend/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Parse(t *testing.T) {
	tests := []struct {
		text string
		name string
		args string
	}{
		{"", CmdHelp, ""},
		{"   ", CmdHelp, ""},
		{"help", CmdHelp, ""},
		{"STATUS inv-0042", CmdStatus, "inv-0042"},
		{"send   INV-1  ", CmdSend, "INV-1"},
		{"create 3 hours of consulting for Globex at 150/h due next friday", CmdCreate, "3 hours of consulting for Globex at 150/h due next friday"},
		{"from-thread", CmdFromThread, ""},
		{"mark-paid INV-1 10 cash", CmdMarkPaid, "INV-1 10 cash"},
		{"refund INV-1", CmdUnknown, "INV-1"},
		{"status\tINV-1", CmdStatus, "INV-1"},
		{"create\n10h design for Globex", CmdCreate, "10h design for Globex"},
		{"mark-paid\u00a0INV-1 10 cash", CmdMarkPaid, "INV-1 10 cash"},
		{"help\r\n", CmdHelp, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd := Parse(tt.text)
			assert.Equal(t, tt.name, cmd.Name)
			assert.Equal(t, tt.args, cmd.Args)
		})
	}
}

func Test_ParseMarkPaid(t *testing.T) {
	tests := []struct {
		args    string
		number  string
		amount  string
		method  string
		ref     string
		wantErr bool
	}{
		{args: `INV-0042 1250.00 wire "TX 8812"`, number: "INV-0042", amount: "1250", method: "wire", ref: "TX 8812"},
		{args: `inv-7 99.5 Card`, number: "INV-7", amount: "99.5", method: "card"},
		{args: `INV-7 $40 cash`, number: "INV-7", amount: "40", method: "cash"},
		{args: "INV-7 40 ach “batch 12”", number: "INV-7", amount: "40", method: "ach", ref: "batch 12"},
		{args: `INV-7 40.123 cash`, wantErr: true},
		{args: `INV-7 -40 cash`, wantErr: true},
		{args: `INV-7 0 cash`, wantErr: true},
		{args: `INV-7 forty cash`, wantErr: true},
		{args: `INV-7 40`, wantErr: true},
		{args: `INV-7 40 bank-transfer`, wantErr: true},
		{args: `INV-7 40 wire TX8812`, wantErr: true},
		{args: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, err := ParseMarkPaid(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.number, got.Number)
			assert.Equal(t, tt.amount, got.Amount.String())
			assert.Equal(t, tt.method, got.Method)
			assert.Equal(t, tt.ref, got.Reference)
		})
	}
}
