package inspector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fluxorio/msgmgr/pkg/metrics"
	"github.com/fluxorio/msgmgr/pkg/msgmgr"
	"github.com/fluxorio/msgmgr/pkg/opm"
	"github.com/valyala/fasthttp"
)

func TestInspectorStatusEndpoint(t *testing.T) {
	registry, registerer := metrics.NewRegistry("msgmgr-test")
	m := metrics.New(registerer)
	mls := msgmgr.NewLookupService(nil, m, msgmgr.ProxyOptions{})
	pools := opm.NewManager(nil)

	owner := msgmgr.NewLocalMailbox("Inspected", msgmgr.MailboxConfig{Metrics: m})
	defer owner.Release()
	if err := mls.Register(owner); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	insp := New("127.0.0.1:0", mls, pools, registry, nil)
	if err := insp.Start(); err != nil {
		t.Fatalf("inspector start failed: %v", err)
	}
	defer insp.Stop()

	get := func(path string) (int, []byte) {
		t.Helper()
		status, body, err := fasthttp.GetTimeout(nil, "http://"+insp.Addr()+path, 5*time.Second)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		return status, body
	}

	status, body := get("/status")
	if status != fasthttp.StatusOK {
		t.Fatalf("GET /status = %d", status)
	}
	var payload struct {
		Mailboxes []msgmgr.MailboxStats `json:"mailboxes"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("status payload not JSON: %v", err)
	}
	if len(payload.Mailboxes) != 1 || payload.Mailboxes[0].Name != "Inspected" {
		t.Errorf("unexpected mailboxes: %+v", payload.Mailboxes)
	}

	if status, _ := get("/metrics"); status != fasthttp.StatusOK {
		t.Errorf("GET /metrics = %d", status)
	}
	if status, _ := get("/nope"); status != fasthttp.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", status)
	}
}
