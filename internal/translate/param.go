package translate

// Wire shape of the island parameter blob. Field order is fixed by the struct
// definitions, so json.Marshal output is deterministic for equal inputs.

type param struct {
	V2 paramV2 `json:"param_v2"`
}

type paramV2 struct {
	Business         string        `json:"business"`
	Ticker           string        `json:"ticker"`
	EnableFloat      bool          `json:"enableFloat"`
	TimeoutMS        int64         `json:"timeout"`
	ShowNotification bool          `json:"isShowNotification"`
	Updatable        bool          `json:"updatable"`
	ChatInfo         *chatInfo     `json:"chatInfo,omitempty"`
	BaseInfo         *baseInfo     `json:"baseInfo,omitempty"`
	ProgressInfo     *progressInfo `json:"progressInfo,omitempty"`
	Island           islandArea    `json:"param_island"`
	Actions          []actionRef   `json:"actions,omitempty"`
}

type islandArea struct {
	Big   bigIsland   `json:"bigIslandArea"`
	Small smallIsland `json:"smallIslandArea"`
}

type bigIsland struct {
	Left  imageTextInfo `json:"imageTextInfoLeft"`
	Right imageTextInfo `json:"imageTextInfoRight"`
}

type smallIsland struct {
	PicInfo picInfo `json:"picInfo"`
}

type imageTextInfo struct {
	Type     int      `json:"type"`
	PicInfo  picInfo  `json:"picInfo"`
	TextInfo textInfo `json:"textInfo"`
}

type picInfo struct {
	Type int    `json:"type"`
	Pic  string `json:"pic"`
}

type textInfo struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

type chatInfo struct {
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	PicProfile string     `json:"picProfile"`
	Timer      *timerInfo `json:"timerInfo,omitempty"`
}

type baseInfo struct {
	Type        int    `json:"type"`
	Title       string `json:"title"`
	Content     string `json:"content,omitempty"`
	PicFunction string `json:"picFunction"`
}

const (
	timerCountUp   = 1
	timerCountDown = -1
)

// timerInfo carries only the base time; the sink computes elapsed time so
// the blob does not change on every delivery.
type timerInfo struct {
	Type int   `json:"timerType"`
	When int64 `json:"timerWhen"`
}

type progressInfo struct {
	Progress      int    `json:"progress"`
	Indeterminate bool   `json:"indeterminate,omitempty"`
	Color         string `json:"colorProgress,omitempty"`
	PicForward    string `json:"picForward,omitempty"`
}

type actionRef struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Pic   string `json:"pic,omitempty"`
}

const (
	textTypeTwoLine  = 1
	textTypeCentered = 2
	picTypeApp       = 1
)
