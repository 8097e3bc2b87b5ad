package format

var builtinSpecs = []Spec{
	{Key: "instagram_square", Width: 1080, Height: 1080, Platform: PlatformInstagram, Description: "Instagram feed post, square"},
	{Key: "instagram_portrait", Width: 1080, Height: 1350, Platform: PlatformInstagram, Description: "Instagram feed post, 4:5 portrait"},
	{Key: "instagram_landscape", Width: 1080, Height: 566, Platform: PlatformInstagram, Description: "Instagram feed post, landscape"},
	{Key: "instagram_story", Width: 1080, Height: 1920, Platform: PlatformInstagram, Description: "Instagram story and reel cover"},

	{Key: "facebook_feed", Width: 1200, Height: 630, Platform: PlatformFacebook, Description: "Facebook link and feed image"},
	{Key: "facebook_square", Width: 1080, Height: 1080, Platform: PlatformFacebook, Description: "Facebook square feed ad"},
	{Key: "facebook_story", Width: 1080, Height: 1920, Platform: PlatformFacebook, Description: "Facebook story ad"},
	{Key: "facebook_cover", Width: 820, Height: 312, Platform: PlatformFacebook, Description: "Facebook page cover"},

	{Key: "twitter_post", Width: 1600, Height: 900, Platform: PlatformTwitter, Description: "X/Twitter in-stream image"},
	{Key: "twitter_header", Width: 1500, Height: 500, Platform: PlatformTwitter, Description: "X/Twitter profile header"},

	{Key: "linkedin_post", Width: 1200, Height: 627, Platform: PlatformLinkedIn, Description: "LinkedIn shared image"},
	{Key: "linkedin_square", Width: 1200, Height: 1200, Platform: PlatformLinkedIn, Description: "LinkedIn square sponsored content"},
	{Key: "linkedin_banner", Width: 1584, Height: 396, Platform: PlatformLinkedIn, Description: "LinkedIn profile banner"},

	{Key: "youtube_thumbnail", Width: 1280, Height: 720, Platform: PlatformYouTube, Description: "YouTube video thumbnail"},
	{Key: "youtube_banner", Width: 2560, Height: 1440, Platform: PlatformYouTube, Description: "YouTube channel art"},

	{Key: "pinterest_pin", Width: 1000, Height: 1500, Platform: PlatformPinterest, Description: "Pinterest standard pin, 2:3"},
	{Key: "pinterest_square", Width: 1000, Height: 1000, Platform: PlatformPinterest, Description: "Pinterest square pin"},

	{Key: "tiktok_cover", Width: 1080, Height: 1920, Platform: PlatformTikTok, Description: "TikTok video cover"},

	{Key: "google_leaderboard", Width: 728, Height: 90, Platform: PlatformGoogleDisplay, Description: "Leaderboard display ad"},
	{Key: "google_medium_rectangle", Width: 300, Height: 250, Platform: PlatformGoogleDisplay, Description: "Medium rectangle display ad"},
	{Key: "google_large_rectangle", Width: 336, Height: 280, Platform: PlatformGoogleDisplay, Description: "Large rectangle display ad"},
	{Key: "google_skyscraper", Width: 160, Height: 600, Platform: PlatformGoogleDisplay, Description: "Wide skyscraper display ad"},
	{Key: "google_half_page", Width: 300, Height: 600, Platform: PlatformGoogleDisplay, Description: "Half-page display ad"},
	{Key: "google_billboard", Width: 970, Height: 250, Platform: PlatformGoogleDisplay, Description: "Billboard display ad"},
	{Key: "google_mobile_banner", Width: 320, Height: 50, Platform: PlatformGoogleDisplay, Description: "Mobile banner display ad"},
}

var builtinPacks = []Pack{
	{
		Name:        "social_essentials",
		Description: "One feed-ready size for each major social network",
		FormatKeys: []string{
			"instagram_square", "facebook_feed", "twitter_post", "linkedin_post", "pinterest_pin",
		},
	},
	{
		Name:        "instagram_complete",
		Description: "Every Instagram placement",
		FormatKeys:  []string{"instagram_square", "instagram_portrait", "instagram_landscape", "instagram_story"},
	},
	{
		Name:        "stories",
		Description: "Full-screen vertical placements",
		FormatKeys:  []string{"instagram_story", "facebook_story", "tiktok_cover"},
	},
	{
		Name:        "google_display_core",
		Description: "The highest-inventory Google display sizes",
		FormatKeys: []string{
			"google_medium_rectangle", "google_leaderboard", "google_half_page", "google_large_rectangle", "google_mobile_banner",
		},
	},
	{
		Name:        "profile_headers",
		Description: "Cover and banner slots",
		FormatKeys:  []string{"facebook_cover", "twitter_header", "linkedin_banner", "youtube_banner"},
	},
}

// Builtin returns a fresh catalog built from the compiled-in tables.
func Builtin() *Catalog {
	c, err := New(builtinSpecs, builtinPacks)
	if err != nil {
		panic("format: invalid builtin catalog: " + err.Error()) //nolint:forbidigo // compiled-in tables must be valid
	}
	return c
}
