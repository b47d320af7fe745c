package domain

import "encoding/json"

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       URLList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// URLList decodes either a single URL string or a list of URLs.
type URLList []string

func (u *URLList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*u = URLList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*u = many
	return nil
}

// DefaultICEServers is the fallback used when the relay directory is unavailable.
var DefaultICEServers = []ICEServer{
	{URLs: URLList{"stun:stun.l.google.com:19302"}},
}
