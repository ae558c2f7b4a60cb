package nats

import "testing"

func TestBuildViewerSubject(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		viewerID string
		expected string
	}{
		{"default prefix", "", "1001", "storefront.push.user.1001.newMessage"},
		{"custom prefix", "tenant-a.push", "u1", "tenant-a.push.user.u1.newMessage"},
		{"wildcards escaped", "", "a.b*>c", "storefront.push.user.a_b__c.newMessage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildViewerSubject(tt.prefix, tt.viewerID, EventNewMessage); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}
