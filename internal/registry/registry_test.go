package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_JoinLeaveMembers(t *testing.T) {
	r := New()
	r.Add("c1")
	r.Add("c2")

	if !r.Join("c1", "admins") {
		t.Fatal("Join returned false for registered connection")
	}
	if !r.Join("c2", "admins") {
		t.Fatal("Join returned false for registered connection")
	}

	members := r.MembersOf("admins")
	if len(members) != 2 {
		t.Fatalf("MembersOf = %v, want 2 members", members)
	}
	if members[0] != "c1" || members[1] != "c2" {
		t.Errorf("MembersOf = %v, want [c1 c2]", members)
	}

	r.Leave("c1", "admins")
	if r.InRoom("c1", "admins") {
		t.Error("c1 still in room after Leave")
	}
	if !r.InRoom("c2", "admins") {
		t.Error("c2 dropped from room by unrelated Leave")
	}
}

func TestRegistry_JoinUnknownConnection(t *testing.T) {
	r := New()
	if r.Join("ghost", "admins") {
		t.Error("Join succeeded for unregistered connection")
	}
	if n, ok := r.IncrementJoinAttempts("ghost"); ok || n != 0 {
		t.Errorf("IncrementJoinAttempts(ghost) = %d, %v; want 0, false", n, ok)
	}
}

func TestRegistry_DisconnectClearsMembership(t *testing.T) {
	r := New()
	r.Add("c1")
	r.Join("c1", "admins")

	r.OnDisconnect("c1")

	if got := r.MembersOf("admins"); len(got) != 0 {
		t.Errorf("MembersOf after disconnect = %v, want empty", got)
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d, want 0", r.Count())
	}
}

func TestRegistry_JoinAttemptsMonotonic(t *testing.T) {
	r := New()
	r.Add("c1")

	// N increments yield exactly N, regardless of join outcomes in between.
	for i := 1; i <= 8; i++ {
		n, ok := r.IncrementJoinAttempts("c1")
		if !ok {
			t.Fatal("IncrementJoinAttempts returned false")
		}
		if n != i {
			t.Fatalf("attempt %d: counter = %d", i, n)
		}
	}
	if got := r.JoinAttempts("c1"); got != 8 {
		t.Errorf("JoinAttempts = %d, want 8", got)
	}

	// Room churn does not touch the counter.
	r.Join("c1", "admins")
	r.Leave("c1", "admins")
	if got := r.JoinAttempts("c1"); got != 8 {
		t.Errorf("JoinAttempts after room churn = %d, want 8", got)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Add(id)
			r.Join(id, "admins")
			r.IncrementJoinAttempts(id)
			r.MembersOf("admins")
			if i%2 == 0 {
				r.OnDisconnect(id)
			}
		}(i)
	}
	wg.Wait()

	if got := r.Count(); got != 25 {
		t.Errorf("Count = %d, want 25", got)
	}
	if got := len(r.MembersOf("admins")); got != 25 {
		t.Errorf("MembersOf = %d members, want 25", got)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := New()
	r.Add("c1")
	r.Add("c2")
	r.Join("c1", "admins")

	stats := r.Snapshot()
	if stats.Connections != 2 {
		t.Errorf("Connections = %d, want 2", stats.Connections)
	}
	if stats.Rooms["admins"] != 1 {
		t.Errorf("Rooms[admins] = %d, want 1", stats.Rooms["admins"])
	}
}
