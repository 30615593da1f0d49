// Package xport decodes SAS transport (XPORT version 5) files.
//
// An XPORT file is a sequence of 80-byte records: a library header, a
// member header describing one dataset, one 140-byte namestr per variable,
// and the observations, each a fixed-width row. Numeric values are stored
// as IBM System/360 hexadecimal floating point; SAS missing values are
// encoded as a single marker byte followed by zeros.
//
// Only the first member of a library is decoded.
//
//	r, err := xport.NewReader(f)
//	if err != nil { ... }
//	fmt.Println(r.Columns())
//	for {
//	    row, err := r.Read()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package xport
