package conversation

import (
	"errors"
	"testing"

	"github.com/relaydesk/relaydesk/internal/store"
)

func TestResolveSender(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload InboundPayload
		want    Sender
		wantErr error
	}{
		{
			name: "whatsapp uses phone number",
			payload: InboundPayload{
				ChannelType: "whatsapp",
				Contact:     Contact{PhoneNumber: "+15551234567", Email: "ignored@example.com"},
			},
			want: Sender{Identifier: "+15551234567", Channel: store.ChannelWhatsApp},
		},
		{
			name: "email uses email address",
			payload: InboundPayload{
				ChannelType: "email",
				Contact:     Contact{Email: "user@example.com"},
			},
			want: Sender{Identifier: "user@example.com", Channel: store.ChannelEmail},
		},
		{
			name: "webwidget with email maps to email channel",
			payload: InboundPayload{
				ChannelType: "webwidget",
				Contact:     Contact{Email: "visitor@example.com"},
			},
			want: Sender{Identifier: "visitor@example.com", Channel: store.ChannelEmail},
		},
		{
			name: "webwidget without email falls back",
			payload: InboundPayload{
				ChannelType: "webwidget",
			},
			want: Sender{Identifier: WebWidgetFallbackEmail, Channel: store.ChannelEmail},
		},
		{
			name: "nested inbox channel type",
			payload: InboundPayload{
				Inbox:   Inbox{ChannelType: "whatsapp"},
				Contact: Contact{PhoneNumber: "+15550001111"},
			},
			want: Sender{Identifier: "+15550001111", Channel: store.ChannelWhatsApp},
		},
		{
			name: "top-level channel type wins over nested",
			payload: InboundPayload{
				ChannelType: "email",
				Inbox:       Inbox{ChannelType: "whatsapp"},
				Contact:     Contact{PhoneNumber: "+15550001111", Email: "user@example.com"},
			},
			want: Sender{Identifier: "user@example.com", Channel: store.ChannelEmail},
		},
		{
			name: "identifier is trimmed",
			payload: InboundPayload{
				ChannelType: "whatsapp",
				Contact:     Contact{PhoneNumber: "  +15551234567  "},
			},
			want: Sender{Identifier: "+15551234567", Channel: store.ChannelWhatsApp},
		},
		{
			name: "whatsapp without phone",
			payload: InboundPayload{
				ChannelType: "whatsapp",
				Contact:     Contact{Email: "user@example.com"},
			},
			wantErr: ErrMissingIdentifier,
		},
		{
			name: "email with whitespace-only address",
			payload: InboundPayload{
				ChannelType: "email",
				Contact:     Contact{Email: "   "},
			},
			wantErr: ErrMissingIdentifier,
		},
		{
			name:    "unknown channel type",
			payload: InboundPayload{ChannelType: "carrier_pigeon"},
			wantErr: ErrUnsupportedChannel,
		},
		{
			name:    "empty payload",
			payload: InboundPayload{},
			wantErr: ErrUnsupportedChannel,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ResolveSender(tc.payload)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want=%v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got=%+v want=%+v", got, tc.want)
			}
		})
	}
}
