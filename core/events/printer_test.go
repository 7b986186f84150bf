package events

import (
	"testing"

	"kylan/crypto"
)

func TestPrintedEventAttributes(t *testing.T) {
	owner := crypto.DeriveAddress([]byte("owner"))
	evt := Printed{Owner: owner, Staked: 100, Printed: 200, Cheque: 200}
	rendered := Render(evt)
	if rendered.Type != TypePrinterPrinted {
		t.Fatalf("unexpected type %q", rendered.Type)
	}
	if rendered.Attributes["printed"] != "200" || rendered.Attributes["staked"] != "100" {
		t.Fatalf("unexpected attributes %+v", rendered.Attributes)
	}
	if rendered.Attributes["owner"] != owner.String() {
		t.Fatalf("owner not rendered: %+v", rendered.Attributes)
	}
}

func TestBufferFlushOrder(t *testing.T) {
	buf := &Buffer{}
	buf.Emit(CertFeeUpdated{Previous: 1, Current: 2})
	buf.Emit(CertTaxmanUpdated{})

	var got []string
	sink := emitterFunc(func(e Event) { got = append(got, e.EventType()) })
	buf.Flush(Fanout{sink, NoopEmitter{}})

	if len(got) != 2 || got[0] != TypeCertFeeUpdated || got[1] != TypeCertTaxmanUpdated {
		t.Fatalf("unexpected flush order %v", got)
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("buffer not cleared")
	}
}

type emitterFunc func(Event)

func (f emitterFunc) Emit(e Event) { f(e) }
