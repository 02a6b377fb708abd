package ffmpeg

// Delivery encode profiles. The converter picks one per job and layers the
// frame rate cap and pixel budget downscale on top.

// PresetApprovedWebM returns options for the VP9 delivery encode. CRF mode
// with -b:v 0, row based multithreading for reasonable encode speed. Delivery
// loops are silent, so no audio stream.
func PresetApprovedWebM() []Option {
	return []Option{
		VideoCodec("libvpx-vp9"),
		CRF(24),
		ExtraArgs("-b:v", "0", "-row-mt", "1"),
		PixelFormat("yuv420p"),
		NoAudio,
	}
}

// PresetApprovedWebP returns options for the animated WebP delivery encode,
// matching the settings the product viewer was tuned against.
func PresetApprovedWebP() []Option {
	return []Option{
		VideoCodec("libwebp"),
		ExtraArgs("-lossless", "0", "-compression_level", "4"),
		Quality(75),
		ExtraArgs("-loop", "0"),
		Preset("default"),
		NoAudio,
	}
}

// ConversionPresetForFormat returns (options, file extension, content type)
// for the given delivery format. Unknown formats fall back to WebM.
func ConversionPresetForFormat(format string) (opts []Option, ext, contentType string) {
	switch format {
	case "webp":
		return PresetApprovedWebP(), ".webp", "image/webp"
	default:
		return PresetApprovedWebM(), ".webm", "video/webm"
	}
}
