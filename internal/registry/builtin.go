package registry

// escposCommands is the command table shared by most ESC/POS thermal printers
func escposCommands(codepage byte, drawer bool) map[Directive]Sequence {
	cmds := map[Directive]Sequence{
		DirectiveInit:             {0x1B, 0x40},
		DirectiveCut:              {0x1D, 0x56, 0x00},
		DirectivePartialCut:       {0x1D, 0x56, 0x01},
		DirectiveAlignLeft:        {0x1B, 0x61, 0x00},
		DirectiveAlignCenter:      {0x1B, 0x61, 0x01},
		DirectiveAlignRight:       {0x1B, 0x61, 0x02},
		DirectiveFontNormal:       {0x1B, 0x21, 0x00},
		DirectiveFontBold:         {0x1B, 0x21, 0x08},
		DirectiveFontDoubleHeight: {0x1B, 0x21, 0x10},
		DirectiveFontDoubleWidth:  {0x1B, 0x21, 0x20},
		DirectiveFontUnderline:    {0x1B, 0x21, 0x80},
		DirectiveSelectCodepage:   {0x1B, 0x74, codepage},
	}
	if drawer {
		// pulse pin 2 for 50ms on, 500ms off
		cmds[DirectiveOpenDrawer] = Sequence{0x1B, 0x70, 0x00, 0x19, 0xFA}
	}
	return cmds
}

// Builtin returns the catalogue used when no profile file is configured
func Builtin() *Registry {
	r, err := New(BuiltinProfiles()...)
	if err != nil {
		panic("registry: invalid builtin catalogue: " + err.Error())
	}
	return r
}

// BuiltinProfiles lists the profiles shipped with the engine
func BuiltinProfiles() []Profile {
	return []Profile{
		{
			ID:            "epson-tm-t20",
			Brand:         "Epson",
			Model:         "TM-T20",
			Name:          "Epson TM-T20 (80mm)",
			Type:          TypeThermal,
			Interfaces:    []Interface{InterfaceUSB, InterfaceEthernet},
			PaperWidthMM:  80,
			DPI:           203,
			SpeedMMPerSec: 150,
			Codepage:      "cp850",
			Raster:        true,
			Default:       true,
			Commands:      escposCommands(2, true),
		},
		{
			ID:            "elgin-i9",
			Brand:         "Elgin",
			Model:         "i9",
			Name:          "Elgin i9 (80mm)",
			Type:          TypeThermal,
			Interfaces:    []Interface{InterfaceUSB, InterfaceEthernet, InterfaceSerial},
			PaperWidthMM:  80,
			DPI:           203,
			SpeedMMPerSec: 300,
			Codepage:      "cp860",
			Raster:        true,
			Commands:      escposCommands(3, true),
		},
		{
			ID:            "bematech-mp4200",
			Brand:         "Bematech",
			Model:         "MP-4200 TH",
			Name:          "Bematech MP-4200 TH",
			Type:          TypeThermal,
			Interfaces:    []Interface{InterfaceUSB, InterfaceSerial, InterfaceEthernet},
			PaperWidthMM:  80,
			DPI:           203,
			SpeedMMPerSec: 250,
			Codepage:      "cp850",
			Raster:        true,
			Commands:      escposCommands(2, true),
		},
		{
			ID:            "generic-58",
			Brand:         "Generic",
			Model:         "POS-58",
			Name:          "Generic 58mm thermal",
			Type:          TypeThermal,
			Interfaces:    []Interface{InterfaceUSB, InterfaceBluetooth},
			PaperWidthMM:  58,
			DPI:           203,
			SpeedMMPerSec: 90,
			Codepage:      "cp437",
			Commands:      escposCommands(0, false),
		},
		{
			ID:            "epson-lx350",
			Brand:         "Epson",
			Model:         "LX-350",
			Name:          "Epson LX-350 (dot matrix)",
			Type:          TypeDotMatrix,
			Interfaces:    []Interface{InterfaceUSB, InterfaceSerial},
			PaperWidthMM:  210,
			DPI:           120,
			SpeedMMPerSec: 60,
			Columns:       80,
			Codepage:      "cp437",
			Commands: map[Directive]Sequence{
				DirectiveInit:        {0x1B, 0x40},
				DirectiveAlignLeft:   {0x1B, 0x61, 0x00},
				DirectiveAlignCenter: {0x1B, 0x61, 0x01},
				DirectiveAlignRight:  {0x1B, 0x61, 0x02},
				DirectiveFontNormal:  {0x1B, 0x46},
				DirectiveFontBold:    {0x1B, 0x45},
			},
		},
		{
			ID:            "office-laser",
			Brand:         "Generic",
			Model:         "Laser",
			Name:          "Office laser (driver only)",
			Type:          TypeLaser,
			Interfaces:    []Interface{InterfaceUSB, InterfaceWiFi, InterfaceEthernet},
			PaperWidthMM:  210,
			DPI:           600,
			SpeedMMPerSec: 100,
			Columns:       80,
		},
	}
}
