package commands

import (
	"regexp"
	"strings"
	"unicode"

	"invoice-automation-backend/internal/apperr"

	"github.com/shopspring/decimal"
)

const (
	CmdCreate     = "create"
	CmdFromThread = "from-thread"
	CmdStatus     = "status"
	CmdSend       = "send"
	CmdMarkPaid   = "mark-paid"
	CmdHelp       = "help"
	CmdUnknown    = "unknown"
)

type Command struct {
	Name string
	Args string
	// Word is the first token as typed, kept for unknown commands.
	Word string
}

// Parse splits text into a command word and its arguments at the first
// whitespace of any kind. Empty input is help; an unrecognised word is
// CmdUnknown.
func Parse(text string) Command {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{Name: CmdHelp}
	}
	word, args := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		word, args = text[:i], text[i:]
	}
	cmd := Command{Word: word, Args: strings.TrimSpace(args)}

	switch strings.ToLower(word) {
	case CmdCreate:
		cmd.Name = CmdCreate
	case CmdFromThread, "fromthread", "from_thread":
		cmd.Name = CmdFromThread
	case CmdStatus:
		cmd.Name = CmdStatus
	case CmdSend:
		cmd.Name = CmdSend
	case CmdMarkPaid, "markpaid", "mark_paid", "paid":
		cmd.Name = CmdMarkPaid
	case CmdHelp, "?":
		cmd.Name = CmdHelp
	default:
		cmd.Name = CmdUnknown
	}
	return cmd
}

type MarkPaidArgs struct {
	Number    string
	Amount    decimal.Decimal
	Method    string
	Reference string
}

var markPaidPattern = regexp.MustCompile(`^(\S+)\s+\$?(\d+(?:\.\d{1,2})?)\s+(\w+)(?:\s+"([^"]*)")?$`)

const MarkPaidUsage = "Usage: `mark-paid <invoice-number> <amount> <method> [\"reference\"]`, e.g. `mark-paid INV-0042 1250.00 wire \"TX 8812\"`"

// ParseMarkPaid reads `<number> <amount> <method> ["reference"]`. Amounts
// take at most two decimals and the method is a single word.
func ParseMarkPaid(args string) (MarkPaidArgs, error) {
	args = strings.NewReplacer("“", `"`, "”", `"`).Replace(strings.TrimSpace(args))
	m := markPaidPattern.FindStringSubmatch(args)
	if m == nil {
		return MarkPaidArgs{}, apperr.Validation(MarkPaidUsage)
	}
	amount, err := decimal.NewFromString(m[2])
	if err != nil || !amount.IsPositive() {
		return MarkPaidArgs{}, apperr.Validation("amount must be a positive number. " + MarkPaidUsage)
	}
	return MarkPaidArgs{
		Number:    strings.ToUpper(m[1]),
		Amount:    amount,
		Method:    strings.ToLower(m[3]),
		Reference: strings.TrimSpace(m[4]),
	}, nil
}

// firstToken returns the invoice number argument of status and send.
func firstToken(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
