package kernlet

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCompleteReplyMatchesEmptyNotNull(t *testing.T) {
	resp := CompleteReply{Matches: []string{}}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"matches":[]`) {
		t.Errorf("expected matches:[], got %s", data)
	}
}

func TestExecuteReplyOKOmitsErrorFields(t *testing.T) {
	resp := ExecuteReply{Status: StatusOK, Output: "4\n"}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"traceback"`, `"ename"`, `"evalue"`} {
		if strings.Contains(string(data), key) {
			t.Errorf("expected no %s key, got %s", key, data)
		}
	}
	// output is always present, even when empty
	data, _ = json.Marshal(ExecuteReply{Status: StatusOK})
	if !strings.Contains(string(data), `"output":""`) {
		t.Errorf("expected output key, got %s", data)
	}
}

func TestExecuteReplyErrorKeys(t *testing.T) {
	resp := ExecuteReply{
		Status:       StatusError,
		Traceback:    []string{"Traceback (most recent call last):"},
		ErrorKind:    "NameError",
		ErrorMessage: "undefined: x",
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	raw := string(data)
	for _, want := range []string{`"status":"error"`, `"ename":"NameError"`, `"evalue":"undefined: x"`, `"traceback":[`} {
		if !strings.Contains(raw, want) {
			t.Errorf("expected %s in %s", want, raw)
		}
	}

	var decoded ExecuteReply
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.OK() {
		t.Error("expected decoded reply to be an error")
	}
}

func TestIntrospectReplyKeys(t *testing.T) {
	data, err := json.Marshal(IntrospectReply{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"found":false,"data":""}` {
		t.Errorf("unexpected encoding %s", data)
	}
}
