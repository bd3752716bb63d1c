package kagi

import (
	"net/http"
	"testing"
)

func TestRotatedSession(t *testing.T) {
	cases := []struct {
		name   string
		values []string
		want   string
		ok     bool
	}{
		{name: "none"},
		{name: "full cookie", values: []string{"kagi_session=NEW; Path=/; HttpOnly"}, want: "NEW", ok: true},
		{name: "bare delimiter", values: []string{"kagi_session=NEW;x"}, want: "NEW", ok: true},
		{name: "no delimiter", values: []string{"kagi_session=NEW"}},
		{name: "nothing after delimiter", values: []string{"kagi_session=NEW;"}},
		{name: "empty value", values: []string{"kagi_session=; Path=/"}},
		{name: "other cookie", values: []string{"other=1; Path=/"}},
		{name: "suffix of other name", values: []string{"old_kagi_session=EVIL; Path=/; HttpOnly"}},
		{name: "name inside value", values: []string{"tracker=kagi_session=EVIL; Path=/"}},
		{name: "leading space", values: []string{" kagi_session=NEW; Path=/"}, want: "NEW", ok: true},
		{name: "second header", values: []string{"other=1; Path=/", "kagi_session=ROT; Secure"}, want: "ROT", ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			for _, v := range tc.values {
				h.Add("Set-Cookie", v)
			}
			got, ok := RotatedSession(h)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("RotatedSession = %q, %v; want %q, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
