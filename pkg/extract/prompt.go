package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Insurer selects the issuer-specific extraction rules.
type Insurer string

const (
	InsurerReliance Insurer = "reliance"
	InsurerShriram  Insurer = "shriram"
)

// ParseInsurer validates an insurer name from configuration.
func ParseInsurer(s string) (Insurer, error) {
	switch Insurer(strings.ToLower(strings.TrimSpace(s))) {
	case InsurerReliance:
		return InsurerReliance, nil
	case InsurerShriram:
		return InsurerShriram, nil
	default:
		return "", fmt.Errorf("unknown insurer %q (want reliance or shriram)", s)
	}
}

// FieldNames is the fixed set of fields extracted from every policy
// document, in output order.
var FieldNames = []string{
	"BROKER_NAME", "CC", "CGST", "CHASIS_NUMBER", "CITY_NAME", "COVER",
	"CUSTOMER_EMAIL", "CUSTOMER_NAME", "CV_TYPE", "ENGINE_NUMBER",
	"FINANCIER_NAME", "FUEL_TYPE", "GST", "GVW", "IDV_SUM_INSURED",
	"IGST", "INSURANCE_COMPANY_NAME", "COMPLETE_LOCATION_ADDRESS",
	"MOB_NO", "NCB", "NET_PREMIUM", "NOMINEE_NAME", "NOMINEE_RELATIONSHIP",
	"OD_EXPIRE_DATE", "OD_PREMIUM", "PINCODE", "POLICY_ISSUE_DATE",
	"POLICY_NO", "PRODUCT_CODE", "REGISTRATION_DATE", "REGISTRATION_NUMBER",
	"RISK_END_DATE", "RISK_START_DATE", "SGST", "STATE_NAME",
	"TOTAL_PREMIUM", "TP_ONLY_PREMIUM", "VEHICLE_MAKE", "VEHICLE_MODEL",
	"VEHICLE_SUB_TYPE", "VEHICLE_VARIANT", "YEAR_OF_MANUFACTURE",
}

const relianceRules = `CRITICAL EXTRACTION RULES FOR RELIANCE GENERAL INSURANCE:

- POLICY_NO: from "Policy Number" / "Policy No" - exact alphanumeric value.
- CUSTOMER_NAME: from "Insured Name" - full name as written.
- REGISTRATION_NUMBER: from "Registration No".
- ENGINE_NUMBER / CHASIS_NUMBER: from "Engine No. / Chassis No." - engine first, chassis second.
- VEHICLE_MAKE / VEHICLE_MODEL / VEHICLE_VARIANT: from "Make / Model & Variant".
- YEAR_OF_MANUFACTURE: from "Mfg. Month & Year" in format MON-YYYY.
- CC: from "CC / HP / Watt" - cubic capacity number only.
- PRODUCT_CODE: from "Vehicle Type" - exactly "Two Wheeler", "Four Wheeler", or "Commercial Vehicle".
- IDV_SUM_INSURED: from "Vehicle IDV" - amount with commas if present.
- POLICY_ISSUE_DATE: from "Tax Invoice No. & Date" - date part only.
- RISK_START_DATE / RISK_END_DATE: from "Own Damage - Section-I Period".
- OD_EXPIRE_DATE: same as RISK_END_DATE.
- OD_PREMIUM: from "TOTAL OWN DAMAGE PREMIUM". TP_ONLY_PREMIUM: from "TOTAL LIABILITY PREMIUM".
- NET_PREMIUM: from "TOTAL PACKAGE PREMIUM (Sec I + II + III)". TOTAL_PREMIUM: from "TOTAL PREMIUM PAYABLE".
- CGST: from "CGST (9.00%)". SGST: from "SGST (9.00%)". IGST: if present. NCB: from "NCB".
- COMPLETE_LOCATION_ADDRESS: from "Communication Address & Place of Supply". PINCODE: 6-digit pincode from address.
- CITY_NAME / STATE_NAME: from "RTO Location".
- MOB_NO: from "Mobile No" (may be masked). CUSTOMER_EMAIL: from "Email-ID".
- NOMINEE_NAME / NOMINEE_RELATIONSHIP: from "PA-Nominee Details Name Age Relation".
- INSURANCE_COMPANY_NAME: always "Reliance General Insurance".
- FINANCIER_NAME, COVER, BROKER_NAME, GST: only if present, else empty string.
- FUEL_TYPE: if mentioned (Petrol/Diesel/CNG/LPG/Electric).
- CV_TYPE / GVW: only for commercial vehicles from "Vehicle Sub Type" / "GVW".`

const shriramRules = `CRITICAL EXTRACTION RULES FOR SHRIRAM GENERAL INSURANCE:

- POLICY_NO: from "Policy No." - exact alphanumeric value.
- CUSTOMER_NAME: from "Insured's Code/ Name" - name part only.
- REGISTRATION_NUMBER: from "REGISTRATION MARK & PLACE".
- ENGINE_NUMBER / CHASIS_NUMBER: from "ENGINE NO. & CHASSIS NO." - engine first, chassis second.
- VEHICLE_MAKE / VEHICLE_MODEL / VEHICLE_VARIANT: from "MAKE - MODEL".
- YEAR_OF_MANUFACTURE / CC: from "CUBIC CAPACITY / WATT/YEAR OF MANF.".
- PRODUCT_CODE: from "Vehicle Type" - exactly "Two Wheeler", "Four Wheeler", or "Commercial Vehicle".
- IDV_SUM_INSURED: from "TOTAL VALUE" in the IDV section.
- POLICY_ISSUE_DATE: from "Period of Insurance". REGISTRATION_DATE: from "DATE OF REGN. / DELIVERY".
- RISK_START_DATE / RISK_END_DATE: from "Own Damage Policy Period". OD_EXPIRE_DATE: same as RISK_END_DATE.
- OD_PREMIUM: from "OD TOTAL". TP_ONLY_PREMIUM: from "TP TOTAL".
- NET_PREMIUM: from "Total". TOTAL_PREMIUM: from "PREMIUM AMOUNT".
- IGST: from "ADD : IGST 18.00%". CGST/SGST: usually empty for Shriram. NCB: from "NCB Discount (%)".
- COMPLETE_LOCATION_ADDRESS / PINCODE / CITY_NAME / STATE_NAME / MOB_NO / CUSTOMER_EMAIL:
  from "Insured Address and Contact Details".
- NOMINEE_NAME: from "Nominee for Owner/Driver". NOMINEE_RELATIONSHIP: from "Nominee Relationship".
- INSURANCE_COMPANY_NAME: always "SHRIRAM GENERAL INSURANCE COMPANY LIMITED".
- FUEL_TYPE / CV_TYPE: from "TYPE OF BODY / FUEL TYPE". GVW: from "GVW" for commercial vehicles.
- FINANCIER_NAME, COVER, GST: only if present. BROKER_NAME: from "Agent Details" if present.`

const promptGuidance = `IMPORTANT:
- Extract EXACT values as they appear in the document.
- For dates, preserve the format found. For amounts, preserve commas and decimals.
- If a field is not found, return empty string "".
- Do NOT add any text that is not in the document.`

// BuildPrompt renders the full extraction prompt for one document.
func BuildPrompt(documentText string, insurer Insurer) string {
	rules := relianceRules
	if insurer == InsurerShriram {
		rules = shriramRules
	}

	empty := make(map[string]string, len(FieldNames))
	for _, f := range FieldNames {
		empty[f] = ""
	}
	schemaJSON, _ := json.MarshalIndent(empty, "", "  ")

	var b strings.Builder
	b.WriteString("You are an expert at extracting structured data from insurance policy documents.\n\n")
	b.WriteString(rules)
	b.WriteString("\n\n")
	b.WriteString(promptGuidance)
	b.WriteString("\n\nTASK:\nExtract all fields from the document text below and return ONLY a valid JSON object with the exact structure shown.\n")
	b.WriteString("Do NOT include any explanations, markdown formatting, or additional text - ONLY the JSON object.\n\n")
	b.WriteString("REQUIRED OUTPUT FORMAT:\n")
	b.Write(schemaJSON)
	b.WriteString("\n\nDOCUMENT TEXT TO EXTRACT FROM:\n")
	b.WriteString(documentText)
	b.WriteString("\n\nReturn ONLY the JSON object with all extracted fields. Ensure all string values are properly quoted and escaped.\n")
	return b.String()
}
