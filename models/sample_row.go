package models

// DefaultPrecision is the number of decimals written per field, as printf "%f".
const DefaultPrecision = 6

// SampleRow is one unified accelerometer + gyroscope reading.
//
// T and the accelerometer axes are written by the accelerometer stream;
// the gyroscope axes are written by the gyroscope stream at its own row index.
type SampleRow struct {
	T  float32 `json:"t"` // seconds since session start
	AX float32 `json:"ax"`
	AY float32 `json:"ay"`
	AZ float32 `json:"az"`
	GX float32 `json:"gx"`
	GY float32 `json:"gy"`
	GZ float32 `json:"gz"`
}

func (SampleRow) CSVHeader() []string {
	return []string{"t", "ax", "ay", "az", "gx", "gy", "gz"}
}

// CSVRow returns the seven fields in export order. A negative precision
// falls back to DefaultPrecision.
func (r SampleRow) CSVRow(precision int) []string {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return []string{
		ftoa32(r.T, precision),
		ftoa32(r.AX, precision), ftoa32(r.AY, precision), ftoa32(r.AZ, precision),
		ftoa32(r.GX, precision), ftoa32(r.GY, precision), ftoa32(r.GZ, precision),
	}
}
