package mz301

import "fmt"

// RecordLength is the fixed width of every record in a declaration file.
const RecordLength = 310

// RecordType is the two-character tag that opens every line.
type RecordType string

const (
	TypeHeader        RecordType = "01" // voorlooprecord
	TypeInsuredPerson RecordType = "02" // verzekerdenrecord
	TypeServiceLine   RecordType = "04" // prestatierecord
	TypeComment       RecordType = "98" // commentaarrecord
	TypeTrailer       RecordType = "99" // sluitrecord
)

// Field is one fixed slice of a record: line[Start:End].
type Field struct {
	Name  string `json:"name"`
	Label string `json:"label"` // field name in the published message standard
	Start int    `json:"start"`
	End   int    `json:"end"` // exclusive
}

// Width returns the number of characters reserved for the field.
func (f Field) Width() int { return f.End - f.Start }

// Layout is the ordered field list of one record type.
type Layout struct {
	Type   RecordType `json:"type"`
	Name   string     `json:"name"`
	Fields []Field    `json:"fields"`
}

// Field names shared by several record types.
const (
	FieldRecordType  = "record_type"
	FieldDetailID    = "detail_id"
	FieldBSN         = "bsn"
	FieldInsurerCode = "insurer_code"
	FieldReserve     = "reserve"
)

// Header (01) fields.
const (
	FieldPeriodStart = "period_start"
	FieldPeriodEnd   = "period_end"
)

// Insured-person (02) fields.
const (
	FieldBirthDate = "birth_date"
	FieldSurname   = "surname"
	FieldInitials  = "initials"
)

// Service-line (04) fields.
const (
	FieldAuthorizationNumber = "authorization_number"
	FieldServiceDate         = "service_date"
	FieldRecordIndicator     = "record_indicator"
	FieldServiceCode         = "service_code"
	FieldElementCode         = "element_code"
	FieldTariff              = "tariff"
	FieldQuantity            = "quantity"
	FieldComputedAmount      = "computed_amount"
	FieldDeclaredAmount      = "declared_amount"
	FieldDeclaredDebitCredit = "declared_debit_credit"
)

// Trailer (99) fields.
const (
	FieldInsuredCount     = "insured_count"
	FieldDebtorCount      = "debtor_count"
	FieldServiceCount     = "service_count"
	FieldCommentCount     = "comment_count"
	FieldDetailCount      = "detail_count"
	FieldTotalAmount      = "total_amount"
	FieldTotalDebitCredit = "total_debit_credit"
)

var layouts = map[RecordType]Layout{
	TypeHeader: {
		Type: TypeHeader,
		Name: "header",
		Fields: []Field{
			{FieldRecordType, "Kenmerk record", 0, 2},
			{"message_code", "Code externe-integratiebericht", 2, 5},
			{"standard_version", "Versienummer berichtstandaard", 5, 7},
			{"standard_subversion", "Subversienummer berichtstandaard", 7, 9},
			{"message_kind", "Soort bericht", 9, 10},
			{"vendor_code", "Code informatiesysteem softwareleverancier", 10, 16},
			{"vendor_version", "Versieaanduiding informatiesysteem softwareleverancier", 16, 26},
			{FieldInsurerCode, "Uzovi-nummer", 26, 30},
			{"service_bureau_code", "Code servicebureau", 30, 38},
			{"provider_code", "Zorgverlenerscode", 38, 46},
			{"practice_code", "Praktijkcode", 46, 54},
			{"institution_code", "Instellingscode", 54, 62},
			{"payment_to", "Identificatiecode betaling aan", 62, 64},
			{FieldPeriodStart, "Begindatum declaratieperiode", 64, 72},
			{FieldPeriodEnd, "Einddatum declaratieperiode", 72, 80},
			{"invoice_number", "Factuurnummer declarant", 80, 92},
			{"invoice_date", "Dagtekening factuur", 92, 100},
			{"vat_number", "Btw-identificatienummer", 100, 114},
			{"currency_code", "Valutacode", 114, 117},
			{FieldReserve, "Reserve", 117, 310},
		},
	},
	TypeInsuredPerson: {
		Type: TypeInsuredPerson,
		Name: "insured_person",
		Fields: []Field{
			{FieldRecordType, "Kenmerk record", 0, 2},
			{FieldDetailID, "Identificatie detailrecord", 2, 14},
			{FieldBSN, "Burgerservicenummer (bsn) verzekerde", 14, 23},
			{FieldInsurerCode, "Uzovi-nummer", 23, 27},
			{"insured_number", "Verzekerdennummer (inschrijvingsnummer, relatienummer)", 27, 42},
			{"patient_number", "Patient(identificatie)nummer", 42, 53},
			{FieldBirthDate, "Datum geboorte verzekerde", 53, 61},
			{"gender", "Code geslacht verzekerde", 61, 62},
			{"name_usage_1", "Naamcode enof naamgebruik (01)", 62, 63},
			{FieldSurname, "Naam verzekerde (01)", 63, 88},
			{"prefix_1", "Voorvoegsel verzekerde (01)", 88, 98},
			{"name_usage_2", "Naamcode enof naamgebruik (02)", 98, 99},
			{"surname_2", "Naam verzekerde (02)", 99, 124},
			{"prefix_2", "Voorvoegsel verzekerde (02)", 124, 134},
			{FieldInitials, "Voorletters verzekerde", 134, 140},
			{"name_usage_3", "Naamcode enof naamgebruik (03)", 140, 141},
			{"postcode", "Postcode (huisadres) verzekerde", 141, 147},
			{"postcode_foreign", "Postcode buitenland", 147, 156},
			{"house_number", "Huisnummer (huisadres) verzekerde", 156, 161},
			{"house_number_suffix", "Huisnummertoevoeging (huisadres) verzekerde", 161, 167},
			{"country_code", "Code land verzekerde", 167, 169},
			{"debtor_number", "Debiteurnummer", 169, 180},
			{"deceased", "Indicatie client overleden", 180, 181},
			{FieldReserve, "Reserve", 181, 310},
		},
	},
	TypeServiceLine: {
		Type: TypeServiceLine,
		Name: "service_line",
		Fields: []Field{
			{FieldRecordType, "Kenmerk record", 0, 2},
			{FieldDetailID, "Identificatie detailrecord", 2, 14},
			{FieldBSN, "Burgerservicenummer (bsn) verzekerde", 14, 23},
			{FieldInsurerCode, "Uzovi-nummer", 23, 27},
			{"insured_number", "Verzekerdennummer (inschrijvingsnummer, relatienummer)", 27, 42},
			{FieldAuthorizationNumber, "Machtigingsnummer", 42, 57},
			{"forwarding_allowed", "Doorsturen toegestaan", 57, 58},
			{FieldServiceDate, "Datum prestatie", 58, 66},
			{FieldRecordIndicator, "Indicatie soort prestatierecord", 66, 68},
			{"special_dentistry", "Indicatie bijzondere tandheelkunde", 68, 69},
			{"special_dentistry_kind", "Soort bijzondere tandheelkunde", 69, 72},
			{"code_list", "Aanduiding prestatiecodelijst", 72, 75},
			{FieldServiceCode, "Prestatiecode", 75, 81},
			{"jaw_indicator", "Indicatie boven enof onder tandheelkunde", 81, 82},
			{FieldElementCode, "Gebitselementcode", 82, 84},
			{"surface_code", "Vlakcode", 84, 90},
			{"diagnosis_code_list", "Aanduiding diagnosecodelijst", 90, 93},
			{"diagnosis_code", "Diagnosecode bijzondere tandheelkunde", 93, 97},
			{"accident", "Indicatie ongeval (ongevalsgevolg)", 97, 98},
			{"practitioner_code", "Zorgverlenerscode behandelaar/uitvoerder", 98, 106},
			{"practitioner_specialty", "Specialisme behandelaar/uitvoerder", 106, 110},
			{"referrer_code", "Zorgverlenerscode voorschrijver/verwijzer", 110, 118},
			{"referrer_specialty", "Specialisme voorschrijver/verwijzer", 118, 122},
			{FieldTariff, "Tarief prestatie (incl. btw)", 122, 130},
			{FieldQuantity, "Aantal uitgevoerde prestaties", 130, 134},
			{FieldComputedAmount, "Berekend bedrag (incl. btw)", 134, 142},
			{"computed_debit_credit", "Indicatie debet/credit (01)", 142, 143},
			{"reduction_amount", "Bedrag vermindering bijzondere tandheelkunde", 143, 151},
			{"vat_percentage", "Btw-percentage declaratiebedrag", 151, 155},
			{FieldDeclaredAmount, "Declaratiebedrag (incl. btw)", 155, 163},
			{FieldDeclaredDebitCredit, "Indicatie debet/credit (02)", 163, 164},
			{"reference", "Referentienummer dit prestatierecord", 164, 184},
			{"previous_reference", "Referentienummer voorgaande gerelateerde prestatierecord", 184, 204},
			{FieldReserve, "Reserve", 204, 310},
		},
	},
	TypeComment: {
		Type: TypeComment,
		Name: "comment",
		Fields: []Field{
			{FieldRecordType, "Kenmerk record", 0, 2},
			{FieldDetailID, "Identificatie detailrecord", 2, 14},
			{"line_number", "Regelnummer vrije tekst", 14, 18},
			{"text", "Vrije tekst", 18, 158},
			{FieldReserve, "Reserve", 158, 310},
		},
	},
	TypeTrailer: {
		Type: TypeTrailer,
		Name: "trailer",
		Fields: []Field{
			{FieldRecordType, "Kenmerk record", 0, 2},
			{FieldInsuredCount, "Aantal verzekerdenrecords", 2, 8},
			{FieldDebtorCount, "Aantal debiteurrecords", 8, 14},
			{FieldServiceCount, "Aantal prestatierecords", 14, 20},
			{FieldCommentCount, "Aantal commentaarrecords", 20, 26},
			{FieldDetailCount, "Totaal aantal detailrecords", 26, 33},
			{FieldTotalAmount, "Totaal declaratiebedrag", 33, 44},
			{FieldTotalDebitCredit, "Indicatie debet enof credit", 44, 45},
			{FieldReserve, "Reserve", 45, 310},
		},
	},
}

// RecordTypes lists the known record types in file order.
var RecordTypes = []RecordType{TypeHeader, TypeInsuredPerson, TypeServiceLine, TypeComment, TypeTrailer}

// LayoutFor returns the field layout for a record type.
func LayoutFor(t RecordType) (Layout, error) {
	l, ok := layouts[t]
	if !ok {
		return Layout{}, fmt.Errorf("record type %q: %w", string(t), ErrUnknownRecordType)
	}
	return l, nil
}

// Known reports whether t has a registered layout.
func Known(t RecordType) bool {
	_, ok := layouts[t]
	return ok
}

// Validate checks that the layout is contiguous, non-overlapping and spans
// exactly RecordLength characters, and that field names are unique.
func (l Layout) Validate() error {
	if len(l.Fields) == 0 {
		return fmt.Errorf("layout %s: no fields", l.Type)
	}
	seen := make(map[string]struct{}, len(l.Fields))
	pos := 0
	for _, f := range l.Fields {
		if f.Start != pos {
			return fmt.Errorf("layout %s: field %s starts at %d, expected %d", l.Type, f.Name, f.Start, pos)
		}
		if f.End <= f.Start {
			return fmt.Errorf("layout %s: field %s has empty range [%d:%d]", l.Type, f.Name, f.Start, f.End)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("layout %s: duplicate field %s", l.Type, f.Name)
		}
		seen[f.Name] = struct{}{}
		pos = f.End
	}
	if pos != RecordLength {
		return fmt.Errorf("layout %s: fields end at %d, expected %d", l.Type, pos, RecordLength)
	}
	return nil
}
