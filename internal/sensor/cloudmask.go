package sensor

import "timelapse-server/internal/ee"

// MaskClouds drops pixels flagged as cloud or shadow/cirrus in the QA
// bitmask. Both bits must be zero for a pixel to survive.
func MaskClouds(img ee.Image, rec Record) ee.Image {
	qa := img.Select(rec.QABand)
	clear := qa.BitwiseAnd(1 << rec.CloudBit).Eq(0).
		And(qa.BitwiseAnd(1 << rec.ShadowBit).Eq(0))
	return img.UpdateMask(clear)
}

// ClearPixel is the scalar form of the cloud mask predicate: it reports
// whether a QA bitmask value describes a clear pixel for this satellite.
func ClearPixel(qa uint16, rec Record) bool {
	return qa&(1<<rec.CloudBit) == 0 && qa&(1<<rec.ShadowBit) == 0
}
