package cmd

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

func newDecodeCommand() *cobra.Command {
	decodeCmd := &cobra.Command{
		Use:   "decode <payload>",
		Short: "Decode a text record payload",
		Long: `Decode an NDEF text record payload given as hex or base64.

With --message the input is a whole NDEF message and its first record is
decoded. With --tlv the input is raw tag memory holding an NDEF TLV.

Examples:
  davi-nfc-bridge decode 02656e4869
  davi-nfc-bridge decode --format=base64 AmVuSGk=
  davi-nfc-bridge decode --message d101055402656e4869
  davi-nfc-bridge decode --fallback=base64 0265`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			fallback, _ := cmd.Flags().GetString("fallback")
			asMessage, _ := cmd.Flags().GetBool("message")
			asTLV, _ := cmd.Flags().GetBool("tlv")
			asJSON, _ := cmd.Flags().GetBool("json")

			input, err := parseBytes(args[0], format)
			if err != nil {
				return err
			}

			payload := input
			switch {
			case asMessage && asTLV:
				return fmt.Errorf("--message and --tlv are mutually exclusive")
			case asTLV:
				if input, err = nfc.FindNDEFMessage(input); err != nil {
					return err
				}
				fallthrough
			case asMessage:
				if payload, err = nfc.FirstTextPayload(input); err != nil {
					return err
				}
			}

			var recovery nfc.Recovery
			switch fallback {
			case "none":
			case "base64":
				recovery = nfc.Base64Recovery
			default:
				return fmt.Errorf("unknown fallback %q", fallback)
			}

			decoded, err := nfc.DecodeTextOr(payload, recovery)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				resp := protocol.DecodeResponse{
					Success:   true,
					Text:      decoded.Text,
					Recovered: decoded.Recovered,
				}
				if decoded.Recovered {
					resp.ErrorCode = nfc.GetErrorCode(decoded.Cause).String()
				} else {
					resp.Language = decoded.Record.LanguageCode
					resp.Encoding = decoded.Record.Encoding.String()
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			if decoded.Recovered {
				fmt.Fprintf(out, "recovered: %s\n", nfc.GetErrorCode(decoded.Cause))
			} else {
				fmt.Fprintf(out, "language: %s\n", decoded.Record.LanguageCode)
				fmt.Fprintf(out, "encoding: %s\n", decoded.Record.Encoding)
			}
			fmt.Fprintf(out, "text: %s\n", decoded.Text)
			return nil
		},
	}

	decodeCmd.Flags().String("format", "hex", "Input format: hex or base64")
	decodeCmd.Flags().String("fallback", "none", "Recovery for undecodable payloads: base64 or none")
	decodeCmd.Flags().Bool("message", false, "Input is an NDEF message")
	decodeCmd.Flags().Bool("tlv", false, "Input is tag memory with an NDEF TLV")
	decodeCmd.Flags().Bool("json", false, "Print the result as JSON")
	return decodeCmd
}

func newEncodeCommand() *cobra.Command {
	encodeCmd := &cobra.Command{
		Use:   "encode <text>",
		Short: "Encode text as a text record payload",
		Long: `Encode text as an NDEF text record.

--wrap selects the output: the bare payload, a single-record NDEF message, or
an NDEF TLV ready to write to Type 2 tag memory.

Examples:
  davi-nfc-bridge encode Hi
  davi-nfc-bridge encode --lang=ja --encoding=utf-16 こんにちは
  davi-nfc-bridge encode --wrap=tlv --format=base64 "Hello NFC"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, _ := cmd.Flags().GetString("lang")
			encodingName, _ := cmd.Flags().GetString("encoding")
			wrap, _ := cmd.Flags().GetString("wrap")
			format, _ := cmd.Flags().GetString("format")

			encoding, err := nfc.ParseTextEncoding(encodingName)
			if err != nil {
				return err
			}
			record, err := nfc.NewTextRecord(lang, args[0], encoding)
			if err != nil {
				return err
			}

			var out []byte
			switch wrap {
			case "payload":
				out = record.Payload
			case "message":
				out = record.MarshalMessage()
			case "tlv":
				out = nfc.WrapTLV(record.MarshalMessage())
			default:
				return fmt.Errorf("unknown wrap %q", wrap)
			}

			formatted, err := formatBytes(out, format)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatted)
			return nil
		},
	}

	encodeCmd.Flags().String("lang", "en", "Language code (at most 63 ASCII characters)")
	encodeCmd.Flags().String("encoding", "utf-8", "Text encoding: utf-8 or utf-16")
	encodeCmd.Flags().String("wrap", "payload", "Output: payload, message or tlv")
	encodeCmd.Flags().String("format", "hex", "Output format: hex or base64")
	return encodeCmd
}

// parseBytes accepts hex with optional ':', '-' or space separators, or standard base64.
func parseBytes(s, format string) ([]byte, error) {
	switch format {
	case "hex":
		cleaned := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
		b, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid hex input: %w", err)
		}
		return b, nil
	case "base64":
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 input: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func formatBytes(b []byte, format string) (string, error) {
	switch format {
	case "hex":
		return hex.EncodeToString(b), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(b), nil
	}
	return "", fmt.Errorf("unknown format %q", format)
}
