package msgmgr

import "testing"

func TestAddressEquality(t *testing.T) {
	a := DistributedAddress("FaultManager", LocalIPAddress, FaultManagerPort)
	b := DistributedAddress("FaultManager", LocalIPAddress, FaultManagerPort)

	if !a.Equal(b) {
		t.Error("identical addresses should be equal")
	}

	b.NEID = "NE-7"
	if a.Equal(b) {
		t.Error("addresses differing in NEID should not be equal")
	}
}

func TestAddressOrderingTrichotomy(t *testing.T) {
	addrs := []MailboxAddress{
		DistributedAddress("Alpha", LocalIPAddress, 12900),
		DistributedAddress("Beta", LocalIPAddress, 12900),
		DistributedAddress("Alpha", LocalIPAddress, 12901),
		LocalAddress("Alpha"),
	}

	for i, a := range addrs {
		for j, b := range addrs {
			lt := a.Less(b)
			gt := b.Less(a)
			eq := a.orderingKey() == b.orderingKey()

			count := 0
			if lt {
				count++
			}
			if gt {
				count++
			}
			if eq {
				count++
			}
			if count != 1 {
				t.Errorf("addrs[%d] vs addrs[%d]: expected exactly one of <, >, ≡ (got lt=%v gt=%v eq=%v)", i, j, lt, gt, eq)
			}
		}
	}
}

func TestAddressOrderingIgnoresOtherFields(t *testing.T) {
	a := DistributedAddress("CallProc", LocalIPAddress, 12900)
	b := a
	b.NEID = "NE-3"
	b.ShelfNumber = 2

	if a.Less(b) || b.Less(a) {
		t.Error("ordering must consider only name, location and inet")
	}
}

func TestMatchesWildcards(t *testing.T) {
	candidate := DistributedAddress("CallProc", LocalIPAddress, 12900)
	candidate.NEID = "NE-1"

	filter := MailboxAddress{MailboxName: "CallProc"}
	if !Matches(filter, candidate) {
		t.Error("name-only filter should match")
	}

	filter = MailboxAddress{MailboxName: "CallProc", Port: 12901}
	if Matches(filter, candidate) {
		t.Error("mismatched port should fail the filter")
	}

	filter = MailboxAddress{LocationType: LocationDistributed}
	if !Matches(filter, candidate) {
		t.Error("location-only filter should match")
	}

	if Matches(MailboxAddress{}, candidate) {
		t.Error("the fully-unknown filter must match nothing")
	}
}

func TestMatchesLocalComparesNameOnly(t *testing.T) {
	filter := LocalAddress("Worker")
	candidate := LocalAddress("Worker")

	if !Matches(filter, candidate) {
		t.Error("local filter should match same-name local mailbox")
	}

	other := LocalAddress("Other")
	if Matches(filter, other) {
		t.Error("local filter should reject a different name")
	}

	remote := DistributedAddress("Worker", LocalIPAddress, 12900)
	if Matches(filter, remote) {
		t.Error("local filter should reject a remote candidate")
	}
}

func TestMatchesLocalCandidateIgnoresGeographicFields(t *testing.T) {
	// Shelf, slot, NEID and socket fields have no meaning for an
	// in-process mailbox: a wildcard criteria that sets them must still
	// match a local candidate on name alone.
	criteria := MailboxAddress{MailboxName: "Worker", ShelfNumber: 3}
	if !Matches(criteria, LocalAddress("Worker")) {
		t.Error("local candidate must be matched on location and name only")
	}

	criteria = MailboxAddress{MailboxName: "Other", ShelfNumber: 3}
	if Matches(criteria, LocalAddress("Worker")) {
		t.Error("name mismatch must still reject a local candidate")
	}

	criteria = MailboxAddress{LocationType: LocationDistributed}
	if Matches(criteria, LocalAddress("Worker")) {
		t.Error("location mismatch must reject a local candidate")
	}
}
