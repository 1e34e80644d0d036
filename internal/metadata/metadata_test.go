package metadata

import "testing"

func TestExtractFieldAnnotations(t *testing.T) {
	xmlDoc := `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.01" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
<edmx:DataServices>
<Schema Namespace="test" xmlns="http://docs.oasis-open.org/odata/ns/edm">
<EntityType Name="Orders">
    <Key><PropertyRef Name="PK"/></Key>
    <Property Name="PK" Type="Edm.String" Nullable="false"/>
    <Property Name="cTotal" Type="Edm.Int32">
        <Annotation Term="com.filemaker.odata.Calculation" Bool="true"/>
    </Property>
    <Property Name="sBalance" Type="Edm.Int32">
        <Annotation Term="com.filemaker.odata.Summary" Bool="true"/>
    </Property>
    <Property Name="gDate" Type="Edm.DateTimeOffset">
        <Annotation Term="com.filemaker.odata.Global" Bool="true"/>
    </Property>
    <Property Name="Name" Type="Edm.String">
        <Annotation Term="com.filemaker.odata.FMComment" String="Customer name"/>
    </Property>
    <Property Name="Street" Type="Edm.String"/>
</EntityType>
</Schema>
</edmx:DataServices>
</edmx:Edmx>`

	result := ExtractFieldAnnotations(xmlDoc)
	orders, ok := result["Orders"]
	if !ok {
		t.Fatalf("Orders not present in result")
	}
	if !orders["cTotal"].Calculation {
		t.Errorf("cTotal.Calculation = false, want true")
	}
	if !orders["sBalance"].Summary {
		t.Errorf("sBalance.Summary = false, want true")
	}
	if !orders["gDate"].Global {
		t.Errorf("gDate.Global = false, want true")
	}
	if orders["Name"].Comment != "Customer name" {
		t.Errorf("Name.Comment = %q, want %q", orders["Name"].Comment, "Customer name")
	}
	if _, ok := orders["Street"]; ok {
		t.Errorf("Street should not appear (no annotations)")
	}
}

func TestExtractFieldAnnotationsEmptyAndMalformed(t *testing.T) {
	if got := ExtractFieldAnnotations(""); len(got) != 0 {
		t.Errorf("empty input: got %v, want empty", got)
	}
	if got := ExtractFieldAnnotations("<broken xml without closing"); len(got) != 0 {
		t.Errorf("malformed input: got %v, want empty", got)
	}
}

func TestExtractFieldAnnotationsBoolFalseIgnored(t *testing.T) {
	xmlDoc := `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.01" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
<edmx:DataServices>
<Schema Namespace="test" xmlns="http://docs.oasis-open.org/odata/ns/edm">
<EntityType Name="Test">
    <Property Name="Name" Type="Edm.String">
        <Annotation Term="com.filemaker.odata.Calculation" Bool="false"/>
    </Property>
</EntityType>
</Schema>
</edmx:DataServices>
</edmx:Edmx>`

	result := ExtractFieldAnnotations(xmlDoc)
	if ann, ok := result["Test"]["Name"]; ok {
		t.Errorf("Bool=false should not create annotation entry, got %+v", ann)
	}
}

func TestExtractFieldAnnotationsStripsTrailingUnderscore(t *testing.T) {
	xmlDoc := `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.01" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
<edmx:DataServices>
<Schema Namespace="test" xmlns="http://docs.oasis-open.org/odata/ns/edm">
<EntityType Name="Orders_">
    <Property Name="cTotal" Type="Edm.Int32">
        <Annotation Term="com.filemaker.odata.Calculation" Bool="true"/>
    </Property>
</EntityType>
</Schema>
</edmx:DataServices>
</edmx:Edmx>`

	result := ExtractFieldAnnotations(xmlDoc)
	if _, ok := result["Orders_"]; ok {
		t.Errorf("Orders_ should be normalized away")
	}
	orders, ok := result["Orders"]
	if !ok {
		t.Fatalf("Orders not present after stripping trailing underscore")
	}
	if !orders["cTotal"].Calculation {
		t.Errorf("cTotal.Calculation = false, want true")
	}
}
