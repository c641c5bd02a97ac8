package views

import "swingmetrics/models"

// SchemaColumns is the canonical column order of an exported session.
// Output files carry no header unless write_header is set, so downstream
// readers rely on this order.
var SchemaColumns = models.SampleRow{}.CSVHeader()
