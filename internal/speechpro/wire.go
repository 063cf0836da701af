package speechpro

// Wire types mirror the scoring service's JSON, whose keys contain literal
// spaces. They never leave this package; callers see the core result types.

type gtpRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type gtpResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SyllLtrs  string `json:"syll ltrs"`
	SyllPhns  string `json:"syll phns"`
	ErrorCode int    `json:"error code"`
}

type modelRequest struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	SyllLtrs string `json:"syll ltrs"`
	SyllPhns string `json:"syll phns"`
}

type modelResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SyllLtrs  string `json:"syll ltrs"`
	SyllPhns  string `json:"syll phns"`
	FST       string `json:"fst"`
	ErrorCode int    `json:"error code"`
}

type scoreRequest struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	SyllLtrs string `json:"syll ltrs"`
	SyllPhns string `json:"syll phns"`
	FST      string `json:"fst"`
	// WavUsr is the base64-encoded normalized recording.
	WavUsr string `json:"wav usr"`
}

type scoreResponse struct {
	Score     *float64       `json:"score"`
	Details   map[string]any `json:"details"`
	Result    map[string]any `json:"result"`
	ErrorCode int            `json:"error code"`
}
