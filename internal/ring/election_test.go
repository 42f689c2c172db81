package ring

import "testing"

func TestShouldForwardOnlyWhenReceiverIDIsLarger(t *testing.T) {
	cases := []struct {
		myID, tokenID int
		want          bool
	}{
		{myID: 5, tokenID: 3, want: true},
		{myID: 3, tokenID: 5, want: false},
		{myID: 5, tokenID: 5, want: false},
	}
	for _, tc := range cases {
		if got := ShouldForward(tc.myID, tc.tokenID); got != tc.want {
			t.Errorf("ShouldForward(%d, %d) = %v, want %v", tc.myID, tc.tokenID, got, tc.want)
		}
	}
}

func TestPeerSetAddIsIdempotent(t *testing.T) {
	set := NewPeerSet()
	addr := stubAddr("127.0.0.1:6001")

	if !set.Add(addr) {
		t.Fatal("first Add should report new")
	}
	if set.Add(addr) {
		t.Fatal("second Add of the same peer should report not-new")
	}
	if set.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", set.Len())
	}
}

func TestPeerSetOtherSkipsExcluded(t *testing.T) {
	set := NewPeerSet()
	a, b := stubAddr("127.0.0.1:6001"), stubAddr("127.0.0.1:6002")
	set.Add(a)
	set.Add(b)

	if got := set.Other(a); got.String() != b.String() {
		t.Fatalf("Other(a) = %v, want %v", got, b)
	}
}

type stubAddr string

func (s stubAddr) Network() string { return "udp" }
func (s stubAddr) String() string  { return string(s) }
