package automation

// Verbs holds the AppleScript commands a player understands for each action.
type Verbs struct {
	PlayPause   string
	SkipBack    string
	SkipForward string
}

// Definition describes a supported player.
type Definition struct {
	BundleID string
	Name     string
	Verbs    Verbs
}

var definitions = []Definition{
	{
		BundleID: "com.apple.Music",
		Name:     "Music",
		Verbs:    Verbs{PlayPause: "playpause", SkipBack: "back track", SkipForward: "next track"},
	},
	{
		BundleID: "com.spotify.client",
		Name:     "Spotify",
		Verbs:    Verbs{PlayPause: "playpause", SkipBack: "back track", SkipForward: "next track"},
	},
	{
		BundleID: "co.brushedtype.doppler-macos",
		Name:     "Doppler",
		Verbs:    Verbs{PlayPause: "playpause", SkipBack: "back track", SkipForward: "next track"},
	},
	{
		BundleID: "computer.crispycrunchy.radiccio",
		Name:     "Radiccio",
		Verbs:    Verbs{PlayPause: "playpause", SkipBack: "previous track", SkipForward: "next track"},
	},
	{
		BundleID: "org.cogx.cog",
		Name:     "Cog",
		Verbs:    Verbs{PlayPause: "play", SkipBack: "previous", SkipForward: "next"},
	},
}

// Definitions returns every supported player in default selection order.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

// Lookup finds the definition for bundleID.
func Lookup(bundleID string) (Definition, bool) {
	for _, d := range definitions {
		if d.BundleID == bundleID {
			return d, true
		}
	}
	return Definition{}, false
}

// Target is a player as seen by the routing controller. Installed is computed once
// at startup.
type Target struct {
	BundleID  string
	Name      string
	Installed bool
}
