package commands

const (
	ResponseEphemeral = "ephemeral"
	ResponseInChannel = "in_channel"
)

type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Block struct {
	Type   string       `json:"type"`
	Text   *TextObject  `json:"text,omitempty"`
	Fields []TextObject `json:"fields,omitempty"`
}

type Response struct {
	ResponseType string  `json:"response_type"`
	Text         string  `json:"text"`
	Blocks       []Block `json:"blocks,omitempty"`
}

func markdown(text string) TextObject {
	return TextObject{Type: "mrkdwn", Text: text}
}

func section(text string) Block {
	t := markdown(text)
	return Block{Type: "section", Text: &t}
}

func ephemeral(text string) Response {
	return Response{
		ResponseType: ResponseEphemeral,
		Text:         text,
		Blocks:       []Block{section(text)},
	}
}

const helpText = "*Invoice commands*\n" +
	"• `create <description>`: draft an invoice from a free-text description\n" +
	"• `from-thread`: draft an invoice from the current thread\n" +
	"• `status <invoice-number>`: show an invoice's status\n" +
	"• `send <invoice-number>`: email the invoice to the client\n" +
	"• `mark-paid <invoice-number> <amount> <method> [\"reference\"]`: record a payment\n" +
	"• `help`: show this message"
