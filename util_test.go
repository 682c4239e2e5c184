// Copyright 2014 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"net/http"
	"testing"
)

var tokenListContainsValueTests = []struct {
	value string
	ok    bool
}{
	{"WebSocket", true},
	{"WEBSOCKET", true},
	{"websocket", true},
	{"websockets", false},
	{"x websocket", false},
	{"websocket x", false},
	{"other,websocket,more", true},
	{"other, websocket, more", true},
}

func TestTokenListContainsValue(t *testing.T) {
	for _, tt := range tokenListContainsValueTests {
		h := http.Header{"Upgrade": {tt.value}}
		ok := tokenListContainsValue(h, "Upgrade", "websocket")
		if ok != tt.ok {
			t.Errorf("tokenListContainsValue(h, n, %q) = %v, want %v", tt.value, ok, tt.ok)
		}
	}
}

func TestHeaderListContainsValue(t *testing.T) {
	for _, tt := range tokenListContainsValueTests {
		ok := headerListContainsValue([]string{tt.value}, "websocket")
		if ok != tt.ok {
			t.Errorf("headerListContainsValue([%q], websocket) = %v, want %v", tt.value, ok, tt.ok)
		}
	}
}

func TestComputeAcceptKey(t *testing.T) {
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("computeAcceptKey returned %q, want %q", got, want)
	}
	if computeAcceptKeyByte([]byte("dGhlIHNhbXBsZSBub25jZQ==")) != want {
		t.Errorf("computeAcceptKeyByte returned a different value than computeAcceptKey")
	}
}
