package ddl

import "testing"

const sampleDDL = `CREATE TABLE "Customers" (
  "_kp_CustomerID" int,
  "Name" varchar(255),
  "_sp_CachedLabel" varchar(255),
  "gLastSync" datetime,
  "G_Region" varchar(255),
  PRIMARY KEY("_kp_CustomerID")
);
CREATE TABLE "Orders" (
  "_kp_OrderID" int,
  "_kf_CustomerID" int,
  "OrderDate" datetime,
  FOREIGN KEY("_kf_CustomerID")
);`

func TestParseDDLTiers(t *testing.T) {
	tables := ParseDDL(sampleDDL, nil)

	customers, ok := tables["Customers"]
	if !ok {
		t.Fatalf("Customers table not parsed")
	}

	cases := []struct {
		field    string
		wantTier Tier
		wantPK   bool
		wantFK   bool
		wantType SemanticType
	}{
		{"_kp_CustomerID", TierKey, true, false, SemanticNumber},
		{"Name", TierStandard, false, false, SemanticText},
		{"_sp_CachedLabel", TierInternal, false, false, SemanticText},
		{"gLastSync", TierInternal, false, false, SemanticDatetime},
		{"G_Region", TierInternal, false, false, SemanticText},
	}
	for _, c := range cases {
		fd, ok := customers[c.field]
		if !ok {
			t.Fatalf("field %q not parsed", c.field)
		}
		if fd.Tier != c.wantTier {
			t.Errorf("%s: Tier = %v, want %v", c.field, fd.Tier, c.wantTier)
		}
		if fd.PK != c.wantPK {
			t.Errorf("%s: PK = %v, want %v", c.field, fd.PK, c.wantPK)
		}
		if fd.FK != c.wantFK {
			t.Errorf("%s: FK = %v, want %v", c.field, fd.FK, c.wantFK)
		}
		if fd.Type != c.wantType {
			t.Errorf("%s: Type = %v, want %v", c.field, fd.Type, c.wantType)
		}
	}
}

func TestParseDDLKeyFlagsFromClauseOrPrefix(t *testing.T) {
	tables := ParseDDL(sampleDDL, nil)
	orders := tables["Orders"]
	if !orders["_kf_CustomerID"].FK {
		t.Errorf("_kf_CustomerID should carry FK flag")
	}
	if !orders["_kp_OrderID"].PK {
		t.Errorf("_kp_OrderID should carry PK flag even via name heuristic")
	}
}

func TestAssignTierAnnotationOverridesName(t *testing.T) {
	got := AssignTier("RegularField", &Annotations{Calculation: true})
	if got != TierInternal {
		t.Errorf("AssignTier with calculation annotation = %v, want internal", got)
	}
}

func TestAssignTierKeyPrefixWinsOverAnnotation(t *testing.T) {
	got := AssignTier("_kp_ID", &Annotations{Calculation: true})
	if got != TierKey {
		t.Errorf("AssignTier = %v, want key (name heuristic wins)", got)
	}
}

func TestCreateTableNames(t *testing.T) {
	names := CreateTableNames(sampleDDL)
	if len(names) != 2 || names[0] != "Customers" || names[1] != "Orders" {
		t.Errorf("CreateTableNames = %v", names)
	}
}

func TestParseDDLEmpty(t *testing.T) {
	if tables := ParseDDL("", nil); len(tables) != 0 {
		t.Errorf("expected empty map for empty DDL, got %v", tables)
	}
}
