package terminology

// loadCommonCodeSystems registers the code systems behind required bindings
// on the base resources the exporter ships definitions for. Keeping these
// local means a mistyped status or gender code is flagged instead of passing
// through on the unknown-system rule.
func (s *MemoryStore) loadCommonCodeSystems() {
	// Administrative Gender
	s.addCodeSystem("http://hl7.org/fhir/administrative-gender", "AdministrativeGender", "administrative-gender", map[string]string{
		"male":    "Male",
		"female":  "Female",
		"other":   "Other",
		"unknown": "Unknown",
	})

	// Observation Status
	s.addCodeSystem("http://hl7.org/fhir/observation-status", "ObservationStatus", "observation-status", map[string]string{
		"registered":       "Registered",
		"preliminary":      "Preliminary",
		"final":            "Final",
		"amended":          "Amended",
		"corrected":        "Corrected",
		"cancelled":        "Cancelled",
		"entered-in-error": "Entered in Error",
		"unknown":          "Unknown",
	})

	// Name Use
	s.addCodeSystem("http://hl7.org/fhir/name-use", "NameUse", "name-use", map[string]string{
		"usual":     "Usual",
		"official":  "Official",
		"temp":      "Temp",
		"nickname":  "Nickname",
		"anonymous": "Anonymous",
		"old":       "Old",
		"maiden":    "Name changed for Marriage",
	})

	// Address Use
	s.addCodeSystem("http://hl7.org/fhir/address-use", "AddressUse", "address-use", map[string]string{
		"home":    "Home",
		"work":    "Work",
		"temp":    "Temporary",
		"old":     "Old / Incorrect",
		"billing": "Billing",
	})

	// Address Type
	s.addCodeSystem("http://hl7.org/fhir/address-type", "AddressType", "address-type", map[string]string{
		"postal":   "Postal",
		"physical": "Physical",
		"both":     "Postal & Physical",
	})

	// Identifier Use
	s.addCodeSystem("http://hl7.org/fhir/identifier-use", "IdentifierUse", "identifier-use", map[string]string{
		"usual":     "Usual",
		"official":  "Official",
		"temp":      "Temp",
		"secondary": "Secondary",
		"old":       "Old",
	})

	// Contact Point System
	s.addCodeSystem("http://hl7.org/fhir/contact-point-system", "ContactPointSystem", "contact-point-system", map[string]string{
		"phone": "Phone",
		"fax":   "Fax",
		"email": "Email",
		"pager": "Pager",
		"url":   "URL",
		"sms":   "SMS",
		"other": "Other",
	})

	// Contact Point Use
	s.addCodeSystem("http://hl7.org/fhir/contact-point-use", "ContactPointUse", "contact-point-use", map[string]string{
		"home":   "Home",
		"work":   "Work",
		"temp":   "Temp",
		"old":    "Old",
		"mobile": "Mobile",
	})

	// Bundle Type
	s.addCodeSystem("http://hl7.org/fhir/bundle-type", "BundleType", "bundle-type", map[string]string{
		"document":             "Document",
		"message":              "Message",
		"transaction":          "Transaction",
		"transaction-response": "Transaction Response",
		"batch":                "Batch",
		"batch-response":       "Batch Response",
		"history":              "History List",
		"searchset":            "Search Results",
		"collection":           "Collection",
	})

	// Publication Status
	s.addCodeSystem("http://hl7.org/fhir/publication-status", "PublicationStatus", "publication-status", map[string]string{
		"draft":   "Draft",
		"active":  "Active",
		"retired": "Retired",
		"unknown": "Unknown",
	})

	// Condition Clinical Status
	s.addCodeSystem("http://terminology.hl7.org/CodeSystem/condition-clinical", "ConditionClinicalStatusCodes", "condition-clinical", map[string]string{
		"active":     "Active",
		"recurrence": "Recurrence",
		"relapse":    "Relapse",
		"inactive":   "Inactive",
		"remission":  "Remission",
		"resolved":   "Resolved",
	})

	// Condition Verification Status
	s.addCodeSystem("http://terminology.hl7.org/CodeSystem/condition-ver-status", "ConditionVerificationStatus", "condition-ver-status", map[string]string{
		"unconfirmed":      "Unconfirmed",
		"provisional":      "Provisional",
		"differential":     "Differential",
		"confirmed":        "Confirmed",
		"refuted":          "Refuted",
		"entered-in-error": "Entered in Error",
	})
}
