package store

import "testing"

func TestDirectory_LookupAndLink(t *testing.T) {
	db := openStoreTestDB(t)
	d, err := NewDirectory(db)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	conversations := NewConversations(db)

	if err := db.Create(&DirectoryCustomer{
		ID: "cust-100", TenantID: "acme", Code: "C-100", Name: "Jordan Silva",
	}).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	id, name, ok, err := d.LookupCustomer("acme", "C-100")
	if err != nil {
		t.Fatalf("LookupCustomer: %v", err)
	}
	if !ok || id != "cust-100" || name != "Jordan Silva" {
		t.Errorf("lookup = %q/%q/%v", id, name, ok)
	}

	if _, _, ok, err := d.LookupCustomer("acme", "C-404"); err != nil || ok {
		t.Errorf("unknown code: ok=%v err=%v, want miss without error", ok, err)
	}
	if _, _, ok, err := d.LookupCustomer("globex", "C-100"); err != nil || ok {
		t.Errorf("wrong tenant: ok=%v err=%v, want miss without error", ok, err)
	}

	contact, err := conversations.ResolveContact("acme", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if err := d.LinkContact(contact.ID, "cust-100"); err != nil {
		t.Fatalf("LinkContact: %v", err)
	}
	linked, err := conversations.ResolveContact("acme", "+5511999990001", "Alex")
	if err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if linked.CustomerID != "cust-100" {
		t.Errorf("CustomerID = %q, want %q", linked.CustomerID, "cust-100")
	}

	if err := d.LinkContact(9999, "cust-100"); err == nil {
		t.Error("expected error linking a missing contact")
	}
}
