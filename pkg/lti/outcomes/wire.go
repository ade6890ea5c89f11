// pkg/lti/outcomes/wire.go
package outcomes

import "encoding/xml"

/* ---------------------- LTI 1.1 POX (imsx) envelopes ---------------------- */

const poxNamespace = "http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0"

type poxRequest struct {
	XMLName xml.Name `xml:"imsx_POXEnvelopeRequest"`
	Xmlns   string   `xml:"xmlns,attr"`
	Header  struct {
		Version   string `xml:"imsx_version"`
		MessageID string `xml:"imsx_messageIdentifier"`
	} `xml:"imsx_POXHeader>imsx_POXRequestHeaderInfo"`
	Body struct {
		Op poxOperation
	} `xml:"imsx_POXBody"`
}

// poxOperation is <readResultRequest>, <replaceResultRequest> etc.
type poxOperation struct {
	XMLName   xml.Name
	SourcedID string     `xml:"resultRecord>sourcedGUID>sourcedId"`
	Result    *poxResult `xml:"resultRecord>result,omitempty"`
}

type poxResult struct {
	Language   string `xml:"resultScore>language"`
	TextString string `xml:"resultScore>textString"`
}

type poxResponse struct {
	Status struct {
		CodeMajor   string `xml:"imsx_codeMajor"`
		Severity    string `xml:"imsx_severity"`
		Description string `xml:"imsx_description"`
	} `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo"`
	Body struct {
		ReadScore *string `xml:"readResultResponse>result>resultScore>textString"`
	} `xml:"imsx_POXBody"`
}

/* -------------------- basic-lis / basic-lti extensions -------------------- */

type extResponse struct {
	Status struct {
		CodeMajor   string `xml:"codemajor"`
		Severity    string `xml:"severity"`
		Description string `xml:"description"`
	} `xml:"statusinfo"`
	ResultScore *string     `xml:"result>resultscore>textstring"`
	Members     []extMember `xml:"memberships>member"`
	Setting     *string     `xml:"setting>value"`
}

type extMember struct {
	UserID     string     `xml:"user_id"`
	Roles      *string    `xml:"roles"`
	GivenName  string     `xml:"person_name_given"`
	FamilyName string     `xml:"person_name_family"`
	FullName   string     `xml:"person_name_full"`
	Email      string     `xml:"person_contact_email_primary"`
	SourcedID  *string    `xml:"lis_result_sourcedid"`
	Groups     []extGroup `xml:"groups>group"`
}

type extGroup struct {
	ID    string `xml:"id"`
	Title string `xml:"title"`
	Set   *struct {
		ID    string `xml:"id"`
		Title string `xml:"title"`
	} `xml:"set"`
}
