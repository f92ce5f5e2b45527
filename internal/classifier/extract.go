package classifier

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
)

// maxDiagnosticBytes caps how much body text is kept as the diagnostic blob.
const maxDiagnosticBytes = 8 * 1024

// envelope is what extraction pulls out of a bounce notification: the
// failing recipient, the reporting sender, and the diagnostic explanation
// (not the whole MIME tree).
type envelope struct {
	Sender     string
	Recipient  string
	Diagnostic string
}

// extractEnvelope parses the raw message. It prefers the structured
// message/delivery-status part of a DSN; when absent it falls back to the
// first text part, and finally to a raw prefix of the payload. Returns an
// error only when nothing readable could be extracted.
func extractEnvelope(raw []byte) (envelope, error) {
	var env envelope

	ent, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		return extractFallback(raw, err)
	}

	header := gomail.Header{Header: ent.Header}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		env.Sender = from[0].Address
	}
	if failed := ent.Header.Get("X-Failed-Recipients"); failed != "" {
		env.Recipient = strings.TrimSpace(failed)
	}

	var textBody string
	walkEntity(ent, 0, &env, &textBody)

	if env.Diagnostic == "" {
		env.Diagnostic = strings.TrimSpace(textBody)
	}
	if env.Diagnostic == "" {
		return extractFallback(raw, fmt.Errorf("no diagnostic text in message"))
	}
	return env, nil
}

// walkEntity visits the MIME tree depth-first, capturing the
// delivery-status part and the first text part. Depth is bounded: bounce
// generators occasionally emit pathological nesting.
func walkEntity(ent *gomessage.Entity, depth int, env *envelope, textBody *string) {
	if depth > 4 {
		return
	}

	if mr := ent.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}
			walkEntity(part, depth+1, env, textBody)
		}
		return
	}

	contentType, _, err := ent.Header.ContentType()
	if err != nil {
		contentType = "text/plain"
	}
	switch {
	case contentType == "message/delivery-status":
		recipient, diag := parseDeliveryStatus(ent.Body)
		if env.Recipient == "" {
			env.Recipient = recipient
		}
		if diag != "" {
			env.Diagnostic = diag
		}
	case strings.HasPrefix(contentType, "text/") && *textBody == "":
		data, err := io.ReadAll(io.LimitReader(ent.Body, maxDiagnosticBytes))
		if err == nil {
			*textBody = string(data)
		}
	}
}

// extractFallback salvages a diagnostic from messages the MIME parser
// rejects. Plenty of real-world bounce generators emit malformed MIME.
func extractFallback(raw []byte, cause error) (envelope, error) {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return envelope{}, fmt.Errorf("extract diagnostic: %w", cause)
	}
	// Split headers from body at the first blank line, if one exists.
	if idx := strings.Index(body, "\r\n\r\n"); idx >= 0 {
		body = strings.TrimSpace(body[idx+4:])
	} else if idx := strings.Index(body, "\n\n"); idx >= 0 {
		body = strings.TrimSpace(body[idx+2:])
	}
	if len(body) > maxDiagnosticBytes {
		body = body[:maxDiagnosticBytes]
	}
	if body == "" {
		return envelope{}, fmt.Errorf("extract diagnostic: %w", cause)
	}
	return envelope{Diagnostic: body}, nil
}

// parseDeliveryStatus reads the per-recipient fields of an RFC 3464
// delivery-status part: Final-Recipient and Diagnostic-Code, with
// Original-Recipient and Status as fallbacks.
func parseDeliveryStatus(body io.Reader) (recipient, diagnostic string) {
	var status string
	var lastField string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		// Continuation lines extend the previous field.
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && lastField == "diagnostic-code" {
			diagnostic += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		lastField = name

		switch name {
		case "final-recipient":
			recipient = stripAddressType(value)
		case "original-recipient":
			if recipient == "" {
				recipient = stripAddressType(value)
			}
		case "diagnostic-code":
			diagnostic = stripAddressType(value)
		case "status":
			status = value
		}
	}
	if diagnostic == "" && status != "" {
		diagnostic = "status " + status
	}
	return recipient, diagnostic
}

// stripAddressType drops the leading "rfc822;" / "smtp;" type token from DSN
// field values.
func stripAddressType(v string) string {
	if _, rest, ok := strings.Cut(v, ";"); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(v)
}
